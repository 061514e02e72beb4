package mailer

import (
	"context"
	"sync"

	logx "remindd/pkg/logx"
)

// Log writes messages to the log instead of sending them. It keeps the
// last few messages for inspection.
type Log struct {
	log logx.Logger

	mu   sync.Mutex
	sent []Message
}

const logKeep = 100

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "mailer.log"))}
}

func (l *Log) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("mail (not sent)",
		logx.String("to", msg.To),
		logx.String("subject", msg.Subject),
		logx.String("message_id", msg.MessageID),
		logx.Int("attachments", len(msg.Attachments)),
	)
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	if len(l.sent) > logKeep {
		l.sent = l.sent[len(l.sent)-logKeep:]
	}
	l.mu.Unlock()
	return nil
}

// Sent returns a copy of the retained messages, oldest first.
func (l *Log) Sent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent...)
}
