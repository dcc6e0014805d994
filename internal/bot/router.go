package bot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"reviewbot/internal/quiz"
	"reviewbot/internal/runtime/supervisor"
	kit "reviewbot/internal/transport"
	logx "reviewbot/pkg/logx"
)

// Store is the read side the bot needs.
type Store interface {
	GetQuiz(ctx context.Context, id string) (quiz.Quiz, error)
	ListDue(ctx context.Context, userID string, now time.Time, limit int) ([]quiz.Quiz, error)
}

// Recorder records answers. *quiz.Ledger implements it.
type Recorder interface {
	RecordOutcome(ctx context.Context, quizID, userID, answer string) (quiz.Outcome, error)
	CompleteTransition(ctx context.Context, a quiz.Attempt) (quiz.Quiz, error)
}

type Config struct {
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
	// SessionTTL bounds how long a plain reply is taken as the answer to the
	// quiz last shown in that chat.
	SessionTTL time.Duration
	DueLimit   int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 15 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.DueLimit <= 0 {
		c.DueLimit = 20
	}
	return c
}

// Request is one routed message.
type Request struct {
	Msg     *kit.Message
	Chat    kit.ChatTarget
	UserID  string
	Command string
	// Rest is the text after the command word, trimmed.
	Rest  string
	ReqID string
	Log   logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

type command struct {
	name        string
	description string
	handle      HandlerFunc
}

// Router turns Telegram messages into quiz operations.
type Router struct {
	cfg     Config
	adapter kit.Adapter
	store   Store
	ledger  Recorder
	log     logx.Logger
	now     func() time.Time

	cmds  map[string]command
	order []string

	sessions *sessions

	jobs chan func()

	runMu   sync.Mutex
	running bool
}

type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cfg Config, adapter kit.Adapter, store Store, ledger Recorder, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	r := &Router{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		ledger:  ledger,
		log:     log,
		now:     time.Now,
		cmds:    map[string]command{},
		jobs:    make(chan func(), cfg.QueueSize),
	}
	for _, o := range opts {
		o(r)
	}
	r.sessions = newSessions(cfg.SessionTTL, r.now)

	r.register("start", "show a quiz from a link", r.handleShow)
	r.register("quiz", "show a quiz: /quiz <id>", r.handleShow)
	r.register("due", "list quizzes due for review", r.handleDue)
	r.register("answer", "answer a quiz: /answer <id> <text>", r.handleAnswer)
	r.register("help", "show help", r.handleHelp)
	return r
}

func (r *Router) register(name, desc string, h HandlerFunc) {
	r.cmds[name] = command{name: name, description: desc, handle: h}
	r.order = append(r.order, name)
}

// Commands lists the command menu entries.
func (r *Router) Commands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, kit.BotCommand{Command: name, Description: r.cmds[name].description})
	}
	return out
}

// Run dispatches updates to a bounded worker pool until ctx is done or
// updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return fmt.Errorf("bot router already running")
	}
	r.running = true
	r.runMu.Unlock()
	defer func() {
		r.runMu.Lock()
		r.running = false
		r.runMu.Unlock()
	}()

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		sup.Go0("menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, r.Commands()); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}
	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	r.log.Info("bot dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("bot dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			if !r.enqueue(func() { r.Handle(ctx, up) }) {
				chat := kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
				_, _ = r.adapter.SendText(ctx, chat, "busy, try again", nil)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in bot job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || msg.FromID == 0 {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	req := &Request{
		Msg:    msg,
		Chat:   kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		UserID: strconv.FormatInt(msg.FromID, 10),
		ReqID:  newReqID(),
	}

	var h HandlerFunc
	if strings.HasPrefix(text, "/") {
		word, rest := splitCommand(text)
		cmd, ok := r.cmds[word]
		if !ok {
			r.reply(ctx, req, "unknown command. try /help")
			return
		}
		req.Command = word
		req.Rest = rest
		h = cmd.handle
	} else {
		req.Command = "reply"
		req.Rest = text
		h = r.handleReply
	}
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.String("user_id", req.UserID),
		logx.String("cmd", req.Command),
	)

	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.cfg.CommandTimeout),
	)
	if err := final(ctx, req); err != nil {
		r.reply(ctx, req, "something went wrong, please try again later")
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if _, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", req.Chat.ChatID), logx.Err(err))
	}
}

// splitCommand returns the command word without the leading slash and the
// @botname suffix, and the remaining text.
func splitCommand(text string) (string, string) {
	text = strings.TrimPrefix(text, "/")
	word, rest := text, ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), rest
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					logger := log
					if req != nil && !req.Log.IsZero() {
						logger = req.Log
					}
					logger.Error("panic recovered",
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Log.IsZero() {
				logger = req.Log
			}
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", logx.Duration("dur", d))
			} else {
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}
