package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "remindd.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func sample(id string, active bool) model.ScheduledEvent {
	return model.ScheduledEvent{
		EventDefinition: model.EventDefinition{
			ID:          id,
			Title:       "Title " + id,
			Description: "desc",
			Anchor:      model.Anchor{At: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC), Zone: "Europe/Berlin"},
			Recurrence:  model.Recurrence{Kind: model.CustomInterval, Value: 1, Unit: model.Months},
			Active:      active,
		},
		Recipients: []model.RecipientLink{{Email: "a@example.com", LeadTimeHours: 24}, {Email: "b@example.com"}},
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("disabled: %v %v", st, err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		t.Run(driver, func(t *testing.T) {
			for _, ev := range []model.ScheduledEvent{sample("b", true), sample("a", true), sample("off", false)} {
				if err := st.SaveEvent(ctx, ev); err != nil {
					t.Fatalf("SaveEvent: %v", err)
				}
			}
			updated := sample("b", true)
			updated.Title = "Renamed"
			updated.Recipients = updated.Recipients[:1]
			if err := st.SaveEvent(ctx, updated); err != nil {
				t.Fatalf("SaveEvent update: %v", err)
			}

			active, err := st.FindActiveEvents(ctx)
			if err != nil {
				t.Fatalf("FindActiveEvents: %v", err)
			}
			if len(active) != 2 || active[0].ID != "b" || active[1].ID != "a" {
				t.Fatalf("active = %+v", active)
			}
			if active[0].Title != "Renamed" || len(active[0].Recipients) != 1 {
				t.Fatalf("update lost: %+v", active[0])
			}
			if len(active[1].Recipients) != 2 || active[1].Recipients[0].LeadTimeHours != 24 {
				t.Fatalf("recipients = %+v", active[1].Recipients)
			}
			if !active[1].Anchor.At.Equal(sample("a", true).Anchor.At) || active[1].Anchor.Zone != "Europe/Berlin" {
				t.Fatalf("anchor = %+v", active[1].Anchor)
			}
			if active[1].Recurrence != sample("a", true).Recurrence {
				t.Fatalf("recurrence = %+v", active[1].Recurrence)
			}

			off, err := st.FindEvent(ctx, "off")
			if err != nil || off.Active {
				t.Fatalf("FindEvent(off) = %+v, %v", off, err)
			}
			if _, err := st.FindEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("FindEvent(missing) = %v", err)
			}

			if err := st.DeleteEvent(ctx, "a"); err != nil {
				t.Fatalf("DeleteEvent: %v", err)
			}
			if err := st.DeleteEvent(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteEvent twice = %v", err)
			}
			if _, err := st.FindEvent(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("deleted event still found: %v", err)
			}
		})
	}
}

func TestHistoryCleanupBoundary(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for driver, st := range openBoth(t) {
		t.Run(driver, func(t *testing.T) {
			stamps := []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Millisecond), cutoff.Add(-time.Nanosecond), cutoff, cutoff.Add(time.Hour)}
			for i, ts := range stamps {
				rec := model.HistoryRecord{
					RecipientEmail: "a@example.com",
					Category:       model.CategoryReminder,
					Status:         model.StatusSent,
					Timestamp:      ts,
					Attempts:       1,
				}
				if i == 0 {
					rec.EventID = "ev"
					rec.Status = model.StatusFailed
					rec.ErrorDetail = "boom"
				}
				if err := st.Append(ctx, rec); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			n, err := st.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				t.Fatalf("DeleteOlderThan: %v", err)
			}
			if n != 3 {
				t.Fatalf("removed %d, want 3", n)
			}

			left, err := st.ListHistory(ctx, HistoryQuery{})
			if err != nil {
				t.Fatalf("ListHistory: %v", err)
			}
			if len(left) != 2 || !left[1].Timestamp.Equal(cutoff) {
				t.Fatalf("left = %+v", left)
			}

			if err := st.Append(ctx, model.HistoryRecord{RecipientEmail: "b@example.com", Category: model.CategoryDailyDigest, Status: model.StatusSent, Timestamp: cutoff.Add(2 * time.Hour)}); err != nil {
				t.Fatalf("Append after cleanup: %v", err)
			}
			latest, err := st.ListHistory(ctx, HistoryQuery{Limit: 1})
			if err != nil || len(latest) != 1 || latest[0].RecipientEmail != "b@example.com" || latest[0].EventID != "" {
				t.Fatalf("latest = %+v, %v", latest, err)
			}
			if n, _ := st.DeleteOlderThan(ctx, cutoff); n != 0 {
				t.Fatalf("second cleanup removed %d", n)
			}
		})
	}
}

func TestFileStoreReloadsExternalWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "remindd.db")
	daemon, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer daemon.Close()
	if evs, _ := daemon.FindActiveEvents(ctx); len(evs) != 0 {
		t.Fatalf("expected empty store")
	}

	importer, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := importer.SaveEvent(ctx, sample("x", true)); err != nil {
		t.Fatal(err)
	}
	_ = importer.Close()

	evs, err := daemon.FindActiveEvents(ctx)
	if err != nil || len(evs) != 1 {
		t.Fatalf("external write not visible: %+v, %v", evs, err)
	}
}
