package recurrence

import (
	"testing"
	"time"

	"remindd/internal/model"
)

// rrule-go expands the same rules independently; both must agree.
func TestInRangeAgreesWithRRule(t *testing.T) {
	cases := []struct {
		name string
		ev   model.EventDefinition
	}{
		{"every 3 days", event(model.CustomInterval, 3, model.Days, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), "UTC")},
		{"every 10 days", event(model.CustomInterval, 10, model.Days, time.Date(2023, 12, 28, 23, 45, 0, 0, time.UTC), "UTC")},
		{"monthly on the 31st", event(model.CustomInterval, 1, model.Months, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), "UTC")},
		{"every 2 months on the 30th", event(model.CustomInterval, 2, model.Months, time.Date(2023, 12, 30, 6, 0, 0, 0, time.UTC), "UTC")},
		{"yearly leap day", event(model.Yearly, 0, "", time.Date(2020, 2, 29, 12, 0, 0, 0, time.UTC), "UTC")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := RRule(tc.ev, time.UTC)
			if err != nil {
				t.Fatalf("RRule: %v", err)
			}
			start := tc.ev.Anchor.At
			end := start.AddDate(2, 0, 0)

			ours := InRange(tc.ev, start, end, time.UTC, 500)
			theirs := r.Between(start, end, true)
			if len(ours) != len(theirs) {
				t.Fatalf("count mismatch: ours=%d rrule=%d", len(ours), len(theirs))
			}
			for i := range theirs {
				if !ours[i].Instant.Equal(theirs[i]) {
					t.Fatalf("occurrence %d: ours=%v rrule=%v", i, ours[i].Instant, theirs[i])
				}
			}
		})
	}
}

func TestRRuleOneOffHasNoRule(t *testing.T) {
	ev := event(model.OneOff, 0, "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "UTC")
	r, err := RRule(ev, time.UTC)
	if err != nil || r != nil {
		t.Fatalf("expected nil rule, got %v, %v", r, err)
	}
}

func TestRuleOptionString(t *testing.T) {
	ev := event(model.CustomInterval, 2, model.Months, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), "UTC")
	opt, ok, err := RuleOption(ev, time.UTC)
	if err != nil || !ok {
		t.Fatalf("RuleOption: ok=%v err=%v", ok, err)
	}
	if s := opt.RRuleString(); s == "" {
		t.Fatalf("empty rule string")
	}
	if opt.Interval != 2 || len(opt.Bysetpos) != 1 || len(opt.Bymonthday) != 4 {
		t.Fatalf("unexpected option %+v", opt)
	}
}
