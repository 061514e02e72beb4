package digest

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"remindd/internal/model"
)

var now = time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)

func ev(id string, kind model.Kind, value int, unit model.Unit, at time.Time, emails ...string) model.ScheduledEvent {
	se := model.ScheduledEvent{EventDefinition: model.EventDefinition{
		ID:          id,
		Title:       "Title " + id,
		Description: "about " + id,
		Anchor:      model.Anchor{At: at, Zone: "UTC"},
		Recurrence:  model.Recurrence{Kind: kind, Value: value, Unit: unit},
		Active:      true,
	}}
	for _, e := range emails {
		se.Recipients = append(se.Recipients, model.RecipientLink{Email: e})
	}
	return se
}

func TestUpcomingMergesSortsAndCaps(t *testing.T) {
	daily := ev("daily", model.CustomInterval, 1, model.Days, now.Add(2*time.Hour), "a@example.com")
	once := ev("once", model.OneOff, 0, "", now.Add(26*time.Hour+30*time.Minute), "b@example.com")
	past := ev("past", model.OneOff, 0, "", now.Add(-time.Hour), "a@example.com")

	got := Upcoming([]model.ScheduledEvent{daily, once, past}, 30, time.UTC, now)
	if len(got) != PerEventCap+1 {
		t.Fatalf("len=%d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Instant.Before(got[i-1].Instant) {
			t.Fatalf("not sorted at %d", i)
		}
	}
	if got[2].EventID != "once" {
		t.Fatalf("expected one-off between first daily occurrences, got %s", got[2].EventID)
	}
}

func TestUpcomingEmptyAndWindow(t *testing.T) {
	far := ev("far", model.OneOff, 0, "", now.AddDate(0, 0, 8), "a@example.com")
	if got := Upcoming([]model.ScheduledEvent{far}, 7, time.UTC, now); len(got) != 0 {
		t.Fatalf("expected nothing within 7 days, got %d", len(got))
	}
	if got := Upcoming(nil, 7, time.UTC, now); got != nil {
		t.Fatalf("expected nil")
	}
}

func TestForRecipientAndBuild(t *testing.T) {
	shared := ev("shared", model.OneOff, 0, "", now.Add(time.Hour), "a@example.com", "b@example.com")
	onlyA := ev("only-a", model.OneOff, 0, "", now.Add(2*time.Hour), "a@example.com")
	nobodyDue := ev("later", model.OneOff, 0, "", now.AddDate(0, 1, 0), "c@example.com")
	events := []model.ScheduledEvent{shared, onlyA, nobodyDue}

	all := Upcoming(events, 7, time.UTC, now)
	if got := ForRecipient(all, events, "B@example.com"); len(got) != 1 || got[0].EventID != "shared" {
		t.Fatalf("ForRecipient(b) = %+v", got)
	}

	if got := Recipients(events); strings.Join(got, ",") != "a@example.com,b@example.com,c@example.com" {
		t.Fatalf("Recipients = %v", got)
	}

	digests := Build(events, Weekly, 7, time.UTC, now)
	if len(digests) != 2 {
		t.Fatalf("expected digests for a and b only, got %d", len(digests))
	}
	if digests[0].Recipient != "a@example.com" || len(digests[0].Occurrences) != 2 {
		t.Fatalf("digest a = %+v", digests[0])
	}
	if digests[0].Kind.Category() != model.CategoryWeeklyDigest {
		t.Fatalf("category = %s", digests[0].Kind.Category())
	}
	if _, ok := digests[1].Events["only-a"]; ok {
		t.Fatalf("digest b references an event it is not linked to")
	}
}

func TestCalendarParsesBack(t *testing.T) {
	shared := ev("shared", model.CustomInterval, 2, model.Days, now.Add(time.Hour), "a@example.com")
	d := Build([]model.ScheduledEvent{shared}, Daily, 5, time.UTC, now)
	if len(d) != 1 {
		t.Fatalf("digests=%d", len(d))
	}
	body := Calendar(d[0])

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := len(cal.Events()); n != len(d[0].Occurrences) {
		t.Fatalf("events=%d want %d", n, len(d[0].Occurrences))
	}
	p := cal.Events()[0].GetProperty(ical.ComponentPropertySummary)
	if p == nil || p.Value != "Title shared" {
		t.Fatalf("summary = %+v", p)
	}
}

func TestExportCalendarCarriesRules(t *testing.T) {
	monthly := ev("rent", model.CustomInterval, 1, model.Months, time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC))
	once := ev("trip", model.OneOff, 0, "", now.AddDate(0, 0, 3))
	body, err := ExportCalendar([]model.ScheduledEvent{monthly, once}, time.UTC, now)
	if err != nil {
		t.Fatalf("ExportCalendar: %v", err)
	}
	if strings.Count(body, "RRULE:") != 1 {
		t.Fatalf("expected one recurring event:\n%s", body)
	}
	if !strings.Contains(body, "FREQ=MONTHLY") || !strings.Contains(body, "BYSETPOS=-1") {
		t.Fatalf("month-end rule missing:\n%s", body)
	}
}
