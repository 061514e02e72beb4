package dispatch

import (
	"context"
	"time"

	"remindd/internal/mailer"
	"remindd/internal/model"
	"remindd/internal/render"
)

type Renderer interface {
	Render(p render.Payload) (mailer.Message, error)
}

type HistoryStore interface {
	Append(ctx context.Context, rec model.HistoryRecord) error
}

// Presence pushes realtime notices to connected users.
type Presence interface {
	IsConnected(user string) bool
	Notify(ctx context.Context, user string, n model.Notice) error
}

// RetryPolicy bounds delivery attempts. Backoff[i] is the wait after
// failed attempt i+1; the last entry repeats when attempts outnumber it.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		Backoff:     []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second},
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 || attempt <= 0 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

// Outcome is the final result of one Send.
type Outcome struct {
	Status    model.Status
	Attempts  int
	MessageID string
	Err       error
}

func (o Outcome) Sent() bool { return o.Status == model.StatusSent }

// Event is published on the bus after every Send.
type Event struct {
	Category  model.Category `json:"category"`
	Recipient string         `json:"recipient"`
	EventID   string         `json:"event_id,omitempty"`
	Attempts  int            `json:"attempts"`
	MessageID string         `json:"message_id,omitempty"`
	At        time.Time      `json:"at"`
	Error     string         `json:"error,omitempty"`
}
