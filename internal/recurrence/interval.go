package recurrence

import (
	"time"

	"remindd/internal/model"
)

// stepper computes the occurrences of a CustomInterval rule.
type stepper struct {
	anchor Zoned
	rec    model.Recurrence
}

// kth returns anchor + k*value units.
func (s stepper) kth(k int) Zoned {
	n := k * s.rec.Value
	switch s.rec.Unit {
	case model.Months:
		return s.anchor.AddMonths(n)
	case model.Years:
		return s.anchor.AddYears(n)
	default:
		return s.anchor.AddDays(n)
	}
}

// firstIndex returns the smallest k >= 0 whose occurrence is at or after t
// (strictly after when strict is set).
func (s stepper) firstIndex(t time.Time, strict bool) int {
	ok := func(k int) bool {
		occ := s.kth(k).Time()
		if strict {
			return occ.After(t)
		}
		return !occ.Before(t)
	}
	if ok(0) {
		return 0
	}

	k := s.estimate(t)
	for k > 0 && ok(k-1) {
		k--
	}
	for !ok(k) {
		k++
	}
	return k
}

// estimate guesses how many whole intervals separate the anchor from t.
func (s stepper) estimate(t time.Time) int {
	a := s.anchor.Time()
	t = t.In(a.Location())
	var units int
	switch s.rec.Unit {
	case model.Months:
		units = (t.Year()-a.Year())*12 + int(t.Month()) - int(a.Month())
	case model.Years:
		units = t.Year() - a.Year()
	default:
		units = int(t.Sub(a).Hours() / 24)
	}
	if units <= 0 {
		return 0
	}
	return units / s.rec.Value
}
