package recurrence

import "time"

// Zoned is an instant bound to the location its calendar arithmetic runs in.
type Zoned struct {
	t time.Time
}

func At(t time.Time, loc *time.Location) Zoned {
	if loc == nil {
		loc = time.UTC
	}
	return Zoned{t: t.In(loc)}
}

func (z Zoned) Time() time.Time          { return z.t }
func (z Zoned) Location() *time.Location { return z.t.Location() }
func (z Zoned) Before(o Zoned) bool      { return z.t.Before(o.t) }
func (z Zoned) After(o Zoned) bool       { return z.t.After(o.t) }
func (z Zoned) Equal(o Zoned) bool       { return z.t.Equal(o.t) }

// AddDays moves n calendar days keeping the wall clock time, so a 09:00
// anchor stays at 09:00 across DST changes.
func (z Zoned) AddDays(n int) Zoned {
	y, m, d := z.t.Date()
	h, mi, s := z.t.Clock()
	return Zoned{t: time.Date(y, m, d+n, h, mi, s, z.t.Nanosecond(), z.t.Location())}
}

// AddMonths moves n calendar months. A day that does not exist in the
// target month is clamped to that month's last day.
func (z Zoned) AddMonths(n int) Zoned {
	y, m, d := z.t.Date()
	h, mi, s := z.t.Clock()

	total := int(m) - 1 + n
	ny := y + floorDiv(total, 12)
	nm := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := daysIn(ny, nm); d > last {
		d = last
	}
	return Zoned{t: time.Date(ny, nm, d, h, mi, s, z.t.Nanosecond(), z.t.Location())}
}

// AddYears moves n calendar years. Feb 29 becomes Feb 28 in common years.
func (z Zoned) AddYears(n int) Zoned { return z.AddMonths(12 * n) }

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
