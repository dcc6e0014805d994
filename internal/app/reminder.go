package app

import (
	"net/url"
	"strings"

	"reviewbot/internal/quiz"
	"reviewbot/internal/token"
	logx "reviewbot/pkg/logx"
)

// linkReminder adds a signed deep link to the default reminder while a
// public URL is configured. A failed signature falls back to the plain text.
func linkReminder(publicURL func() string, issuer *token.Issuer, log logx.Logger) quiz.ReminderFunc {
	return func(q quiz.Quiz) quiz.Message {
		msg := quiz.DefaultReminder(q)
		base := strings.TrimRight(strings.TrimSpace(publicURL()), "/")
		if base == "" || issuer == nil {
			return msg
		}
		tok, err := issuer.Issue(q.UserID, q.ID)
		if err != nil {
			log.Warn("reminder link not signed", logx.String("quiz_id", q.ID), logx.Err(err))
			return msg
		}
		msg.Text += "\nor open " + base + "/quizzes/" + url.PathEscape(q.ID) + "?token=" + url.QueryEscape(tok)
		return msg
	}
}
