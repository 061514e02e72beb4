package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"remindd/internal/model"
)

// RuleOption expresses the recurrence of ev as an RFC 5545 rule anchored
// in the event zone. One-off events have no rule and return ok=false.
//
// Month-end clamping is encoded with BYMONTHDAY=28..d;BYSETPOS=-1, which
// picks the anchor day when the month has it and the last day otherwise.
func RuleOption(ev model.EventDefinition, zone *time.Location) (opt rrule.ROption, ok bool, err error) {
	loc := ev.Anchor.Location(zone)
	start := ev.Anchor.At.In(loc)
	opt = rrule.ROption{Dtstart: start, Interval: 1}

	switch ev.Recurrence.Kind {
	case model.OneOff:
		return opt, false, nil
	case model.Yearly:
		opt.Freq = rrule.YEARLY
		clampYearDay(&opt, start)
	case model.CustomInterval:
		if err := ev.Recurrence.Validate(); err != nil {
			return opt, false, err
		}
		opt.Interval = ev.Recurrence.Value
		switch ev.Recurrence.Unit {
		case model.Days:
			opt.Freq = rrule.DAILY
		case model.Months:
			opt.Freq = rrule.MONTHLY
			if d := start.Day(); d > 28 {
				opt.Bymonthday = dayRange(d)
				opt.Bysetpos = []int{-1}
			}
		case model.Years:
			opt.Freq = rrule.YEARLY
			clampYearDay(&opt, start)
		}
	default:
		return opt, false, fmt.Errorf("recurrence: unknown kind %q", ev.Recurrence.Kind)
	}
	return opt, true, nil
}

// RRule builds the rrule-go iterator for ev. One-off events return nil.
func RRule(ev model.EventDefinition, zone *time.Location) (*rrule.RRule, error) {
	opt, ok, err := RuleOption(ev, zone)
	if err != nil || !ok {
		return nil, err
	}
	return rrule.NewRRule(opt)
}

func clampYearDay(opt *rrule.ROption, start time.Time) {
	if start.Month() == time.February && start.Day() == 29 {
		opt.Bymonth = []int{2}
		opt.Bymonthday = []int{28, 29}
		opt.Bysetpos = []int{-1}
	}
}

func dayRange(d int) []int {
	out := make([]int, 0, d-27)
	for i := 28; i <= d; i++ {
		out = append(out, i)
	}
	return out
}
