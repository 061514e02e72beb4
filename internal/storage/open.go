package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

// EventStore is the read side the scheduler uses.
type EventStore interface {
	FindActiveEvents(ctx context.Context) ([]model.ScheduledEvent, error)
	FindEvent(ctx context.Context, id string) (model.ScheduledEvent, error)
}

// HistoryStore is the append-only dispatch log.
type HistoryStore interface {
	Append(ctx context.Context, rec model.HistoryRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	ListHistory(ctx context.Context, q HistoryQuery) ([]model.HistoryRecord, error)
}

// Store is the full persistence API.
type Store interface {
	EventStore
	HistoryStore
	SaveEvent(ctx context.Context, ev model.ScheduledEvent) error
	DeleteEvent(ctx context.Context, id string) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// activeOnly filters and keeps input order.
func activeOnly(in []model.ScheduledEvent) []model.ScheduledEvent {
	out := make([]model.ScheduledEvent, 0, len(in))
	for _, ev := range in {
		if ev.Active {
			out = append(out, ev)
		}
	}
	return out
}
