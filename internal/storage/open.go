package storage

import (
	"errors"
	"strings"

	logx "reviewbot/pkg/logx"
)

// Open initializes the configured store. The service cannot run without
// one, so an empty driver is an error.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "":
		return nil, errors.New("storage.driver is required")
	case "memory", "mem":
		log.Warn("memory storage: data is lost on restart")
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
