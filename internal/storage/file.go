package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.json    (snapshot, rewritten via tmp + rename)
//   - <prefix>.history.jsonl  (append-only JSON Lines)
//
// The events snapshot is reloaded when another process (the import
// command) rewrites it.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	eventsPath  string
	eventsMod   time.Time
	events      map[string]eventRecord
	order       []string
	historyPath string
	historyFile *os.File
	nextID      int64
}

// eventRecord is the on-disk form of a scheduled event.
type eventRecord struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	AnchorAt    time.Time             `json:"anchor_at"`
	Zone        string                `json:"zone"`
	Recurrence  model.Recurrence      `json:"recurrence"`
	Active      bool                  `json:"active"`
	Recipients  []model.RecipientLink `json:"recipients,omitempty"`
}

func toRecord(ev model.ScheduledEvent) eventRecord {
	return eventRecord{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		AnchorAt:    ev.Anchor.At,
		Zone:        ev.Anchor.Zone,
		Recurrence:  ev.Recurrence,
		Active:      ev.Active,
		Recipients:  append([]model.RecipientLink(nil), ev.Recipients...),
	}
}

func (r eventRecord) scheduled() model.ScheduledEvent {
	return model.ScheduledEvent{
		EventDefinition: model.EventDefinition{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description,
			Anchor:      model.Anchor{At: r.AnchorAt, Zone: r.Zone},
			Recurrence:  r.Recurrence,
			Active:      r.Active,
		},
		Recipients: append([]model.RecipientLink(nil), r.Recipients...),
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:         log,
		eventsPath:  prefix + ".events.json",
		historyPath: prefix + ".history.jsonl",
		events:      map[string]eventRecord{},
	}
	if err := s.reloadEventsLocked(); err != nil {
		return nil, err
	}

	maxID, err := scanMaxHistoryID(s.historyPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.nextID = maxID + 1

	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.historyFile = hf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return nil
	}
	err := s.historyFile.Close()
	s.historyFile = nil
	return err
}

// ---- events ----

func (s *fileStore) reloadEventsLocked() error {
	fi, err := os.Stat(s.eventsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.eventsMod.IsZero() && fi.ModTime().Equal(s.eventsMod) {
		return nil
	}

	b, err := os.ReadFile(s.eventsPath)
	if err != nil {
		return err
	}
	var recs []eventRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return fmt.Errorf("decode %s: %w", s.eventsPath, err)
	}
	s.events = make(map[string]eventRecord, len(recs))
	s.order = s.order[:0]
	for _, r := range recs {
		if _, dup := s.events[r.ID]; !dup {
			s.order = append(s.order, r.ID)
		}
		s.events[r.ID] = r
	}
	s.eventsMod = fi.ModTime()
	s.log.Debug("events loaded", logx.Int("count", len(recs)))
	return nil
}

func (s *fileStore) writeEventsLocked() error {
	recs := make([]eventRecord, 0, len(s.order))
	for _, id := range s.order {
		recs = append(recs, s.events[id])
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.eventsPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.eventsPath); err != nil {
		return err
	}
	if fi, err := os.Stat(s.eventsPath); err == nil {
		s.eventsMod = fi.ModTime()
	}
	return nil
}

func (s *fileStore) FindActiveEvents(ctx context.Context) ([]model.ScheduledEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadEventsLocked(); err != nil {
		return nil, err
	}
	out := make([]model.ScheduledEvent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id].scheduled())
	}
	return activeOnly(out), nil
}

func (s *fileStore) FindEvent(ctx context.Context, id string) (model.ScheduledEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.ScheduledEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadEventsLocked(); err != nil {
		return model.ScheduledEvent{}, err
	}
	r, ok := s.events[id]
	if !ok {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.scheduled(), nil
}

func (s *fileStore) SaveEvent(ctx context.Context, ev model.ScheduledEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadEventsLocked(); err != nil {
		return err
	}
	if _, ok := s.events[ev.ID]; !ok {
		s.order = append(s.order, ev.ID)
	}
	s.events[ev.ID] = toRecord(ev)
	return s.writeEventsLocked()
}

func (s *fileStore) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadEventsLocked(); err != nil {
		return err
	}
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.events, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.writeEventsLocked()
}

// ---- history ----

func (s *fileStore) Append(ctx context.Context, rec model.HistoryRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return errors.New("history file closed")
	}
	rec.ID = s.nextID
	if err := json.NewEncoder(s.historyFile).Encode(rec); err != nil {
		return err
	}
	s.nextID++
	return nil
}

// DeleteOlderThan drops records with Timestamp strictly before cutoff by
// rewriting the journal.
func (s *fileStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return 0, errors.New("history file closed")
	}

	var keep []model.HistoryRecord
	removed := 0
	err := readHistory(s.historyPath, func(r model.HistoryRecord) {
		if r.Timestamp.Before(cutoff) {
			removed++
			return
		}
		keep = append(keep, r)
	})
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := s.historyPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	_ = s.historyFile.Close()
	s.historyFile = nil
	if err := os.Rename(tmp, s.historyPath); err != nil {
		return 0, err
	}
	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.historyFile = hf
	return removed, nil
}

// ListHistory returns matching records, newest first.
func (s *fileStore) ListHistory(ctx context.Context, q HistoryQuery) ([]model.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.HistoryRecord
	err := readHistory(s.historyPath, func(r model.HistoryRecord) {
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			return
		}
		out = append(out, r)
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func readHistory(path string, fn func(model.HistoryRecord)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			var rec model.HistoryRecord
			if jerr := json.Unmarshal(line, &rec); jerr == nil {
				fn(rec)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func scanMaxHistoryID(path string) (int64, error) {
	var maxID int64
	err := readHistory(path, func(r model.HistoryRecord) {
		if r.ID > maxID {
			maxID = r.ID
		}
	})
	return maxID, err
}
