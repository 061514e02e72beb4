package matcher

import (
	"testing"
	"time"

	"remindd/internal/model"
)

func scheduled(id string, kind model.Kind, value int, unit model.Unit, at time.Time, recips ...model.RecipientLink) model.ScheduledEvent {
	return model.ScheduledEvent{
		EventDefinition: model.EventDefinition{
			ID:         id,
			Title:      id,
			Anchor:     model.Anchor{At: at, Zone: "UTC"},
			Recurrence: model.Recurrence{Kind: kind, Value: value, Unit: unit},
			Active:     true,
		},
		Recipients: recips,
	}
}

func TestFindDueWindowBoundaries(t *testing.T) {
	occ := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ev := scheduled("ev", model.OneOff, 0, "", occ, model.RecipientLink{Email: "a@example.com", LeadTimeHours: 24})
	notifyAt := occ.Add(-24 * time.Hour)
	window := 5 * time.Minute

	cases := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{"just before notify time", notifyAt.Add(-time.Second), false},
		{"exactly at notify time", notifyAt, true},
		{"inside window", notifyAt.Add(4 * time.Minute), true},
		{"window end is exclusive", notifyAt.Add(window), false},
		{"well after", notifyAt.Add(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FindDue([]model.ScheduledEvent{ev}, tc.now, window, time.UTC)
			if (len(got) == 1) != tc.due {
				t.Fatalf("due=%v, got %+v", tc.due, got)
			}
			if tc.due {
				if !got[0].OccurrenceInstant.Equal(occ) || got[0].LeadTimeHours != 24 || got[0].Category != model.CategoryReminder {
					t.Fatalf("unexpected notification %+v", got[0])
				}
			}
		})
	}
}

func TestFindDueZeroLeadTime(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	ev := scheduled("daily", model.CustomInterval, 1, model.Days, anchor, model.RecipientLink{Email: "a@example.com"})
	now := anchor.AddDate(0, 0, 3).Add(30 * time.Second)
	got := FindDue([]model.ScheduledEvent{ev}, now, time.Minute, time.UTC)
	if len(got) != 1 || !got[0].OccurrenceInstant.Equal(anchor.AddDate(0, 0, 3)) {
		t.Fatalf("got %+v", got)
	}
}

func TestFindDueLeadLongerThanInterval(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	// Every 2 days with a 3 day lead: the reminder for the occurrence on
	// Jan 9 fires on Jan 6 08:00, while the Jan 7 occurrence is still ahead.
	ev := scheduled("ev", model.CustomInterval, 2, model.Days, anchor, model.RecipientLink{Email: "a@example.com", LeadTimeHours: 72})
	now := time.Date(2024, 1, 6, 8, 1, 0, 0, time.UTC)
	got := FindDue([]model.ScheduledEvent{ev}, now, 5*time.Minute, time.UTC)
	if len(got) != 1 || !got[0].OccurrenceInstant.Equal(time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("got %+v", got)
	}
}

func TestFindDueOrderAndFilters(t *testing.T) {
	occ := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	now := occ.Add(-time.Hour)

	first := scheduled("first", model.OneOff, 0, "", occ,
		model.RecipientLink{Email: "b@example.com", LeadTimeHours: 1},
		model.RecipientLink{Email: "a@example.com", LeadTimeHours: 1},
		model.RecipientLink{Email: "late@example.com", LeadTimeHours: 2},
	)
	inactive := scheduled("inactive", model.OneOff, 0, "", occ, model.RecipientLink{Email: "a@example.com", LeadTimeHours: 1})
	inactive.Active = false
	second := scheduled("second", model.Yearly, 0, "", occ.AddDate(-3, 0, 0), model.RecipientLink{Email: "c@example.com", LeadTimeHours: 1})

	got := FindDue([]model.ScheduledEvent{first, inactive, second}, now, time.Minute, time.UTC)
	want := []struct{ ev, email string }{{"first", "b@example.com"}, {"first", "a@example.com"}, {"second", "c@example.com"}}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i, w := range want {
		if got[i].EventID != w.ev || got[i].RecipientEmail != w.email {
			t.Fatalf("item %d = %s/%s want %s/%s", i, got[i].EventID, got[i].RecipientEmail, w.ev, w.email)
		}
	}
}

func TestFindDueEmptyWindow(t *testing.T) {
	occ := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ev := scheduled("ev", model.OneOff, 0, "", occ, model.RecipientLink{Email: "a@example.com"})
	if got := FindDue([]model.ScheduledEvent{ev}, occ, 0, time.UTC); got != nil {
		t.Fatalf("got %+v", got)
	}
}
