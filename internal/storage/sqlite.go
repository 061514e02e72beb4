package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- events ----

const eventColumns = `id, title, description, anchor_at, zone, kind, interval_value, interval_unit, active`

func (s *sqliteStore) FindActiveEvents(ctx context.Context) ([]model.ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE active = 1 ORDER BY position`)
	if err != nil {
		return nil, err
	}
	var out []model.ScheduledEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Recipients, err = s.recipients(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqliteStore) FindEvent(ctx context.Context, id string) (model.ScheduledEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	ev.Recipients, err = s.recipients(ctx, id)
	return ev, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (model.ScheduledEvent, error) {
	var (
		ev       model.ScheduledEvent
		desc     sql.NullString
		anchorAt string
		kind     string
		value    int
		unit     sql.NullString
		active   int
	)
	if err := sc.Scan(&ev.ID, &ev.Title, &desc, &anchorAt, &ev.Anchor.Zone, &kind, &value, &unit, &active); err != nil {
		return ev, err
	}
	at, err := time.Parse(time.RFC3339Nano, anchorAt)
	if err != nil {
		return ev, fmt.Errorf("event %s: anchor_at: %w", ev.ID, err)
	}
	ev.Description = desc.String
	ev.Anchor.At = at
	ev.Recurrence = model.Recurrence{Kind: model.Kind(kind), Value: value, Unit: model.Unit(unit.String)}
	ev.Active = active != 0
	return ev, nil
}

func (s *sqliteStore) recipients(ctx context.Context, eventID string) ([]model.RecipientLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, lead_time_hours FROM recipients WHERE event_id = ? ORDER BY position`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RecipientLink
	for rows.Next() {
		var r model.RecipientLink
		if err := rows.Scan(&r.Email, &r.LeadTimeHours); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.ScheduledEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var pos int
	err = tx.QueryRowContext(ctx, `SELECT position FROM events WHERE id = ?`, ev.ID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM events`).Scan(&pos)
	}
	if err != nil {
		return err
	}

	active := 0
	if ev.Active {
		active = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(id, title, description, anchor_at, zone, kind, interval_value, interval_unit, active, position, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, description=excluded.description, anchor_at=excluded.anchor_at,
		   zone=excluded.zone, kind=excluded.kind, interval_value=excluded.interval_value,
		   interval_unit=excluded.interval_unit, active=excluded.active, updated_at=excluded.updated_at`,
		ev.ID, ev.Title, nullStr(ev.Description), ev.Anchor.At.Format(time.RFC3339Nano), ev.Anchor.Zone,
		string(ev.Recurrence.Kind), ev.Recurrence.Value, nullStr(string(ev.Recurrence.Unit)), active, pos,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE event_id = ?`, ev.ID); err != nil {
		return err
	}
	for i, r := range ev.Recipients {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recipients(event_id, email, lead_time_hours, position) VALUES(?,?,?,?)
			 ON CONFLICT(event_id, email) DO UPDATE SET lead_time_hours=excluded.lead_time_hours`,
			ev.ID, r.Email, r.LeadTimeHours, i,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE event_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// ---- history ----

func (s *sqliteStore) Append(ctx context.Context, rec model.HistoryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(event_id, recipient_email, category, status, ts, error_detail, attempts, message_id)
		 VALUES(?,?,?,?,?,?,?,?)`,
		nullStr(rec.EventID), rec.RecipientEmail, string(rec.Category), string(rec.Status),
		rec.Timestamp.UnixNano(), nullStr(rec.ErrorDetail), rec.Attempts, nullStr(rec.MessageID),
	)
	return err
}

func (s *sqliteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ListHistory(ctx context.Context, q HistoryQuery) ([]model.HistoryRecord, error) {
	query := `SELECT id, event_id, recipient_email, category, status, ts, error_detail, attempts, message_id FROM history`
	var args []any
	if !q.Since.IsZero() {
		query += ` WHERE ts >= ?`
		args = append(args, q.Since.UnixNano())
	}
	query += ` ORDER BY id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HistoryRecord
	for rows.Next() {
		var (
			r                      model.HistoryRecord
			eventID, detail, msgID sql.NullString
			category, status       string
			ts                     int64
		)
		if err := rows.Scan(&r.ID, &eventID, &r.RecipientEmail, &category, &status, &ts, &detail, &r.Attempts, &msgID); err != nil {
			return nil, err
		}
		r.EventID = eventID.String
		r.Category = model.Category(category)
		r.Status = model.Status(status)
		r.Timestamp = time.Unix(0, ts).UTC()
		r.ErrorDetail = detail.String
		r.MessageID = msgID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
