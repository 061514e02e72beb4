package recurrence

import (
	"sort"
	"time"

	"remindd/internal/model"
)

// DefaultMaxCount bounds InRange when the caller passes no limit.
const DefaultMaxCount = 50

// InRange returns the occurrences of ev inside [start, end], ascending,
// deduplicated and capped at maxCount (DefaultMaxCount when <= 0).
// zone is the fallback when the anchor zone is missing and the location
// results are returned in.
func InRange(ev model.EventDefinition, start, end time.Time, zone *time.Location, maxCount int) []model.Occurrence {
	if !ev.Active || end.Before(start) {
		return nil
	}
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if zone == nil {
		zone = time.UTC
	}
	loc := ev.Anchor.Location(zone)
	anchor := At(ev.Anchor.At, loc)

	var out []model.Occurrence
	emit := func(t time.Time, seq int) {
		out = append(out, model.Occurrence{EventID: ev.ID, Title: ev.Title, Instant: t.In(zone), Sequence: seq})
	}

	switch ev.Recurrence.Kind {
	case model.OneOff:
		if inside(anchor.Time(), start, end) {
			emit(anchor.Time(), 1)
		}

	case model.Yearly:
		first := max(start.In(loc).Year(), anchor.Time().Year())
		last := end.In(loc).Year()
		for y := first; y <= last && len(out) < maxCount; y++ {
			occ := anchor.AddYears(y - anchor.Time().Year()).Time()
			if inside(occ, start, end) {
				emit(occ, y-anchor.Time().Year()+1)
			}
		}

	case model.CustomInterval:
		if ev.Recurrence.Validate() != nil {
			return nil
		}
		st := stepper{anchor: anchor, rec: ev.Recurrence}
		for k := st.firstIndex(start, false); len(out) < maxCount; k++ {
			occ := st.kth(k).Time()
			if occ.After(end) {
				break
			}
			emit(occ, k+1)
		}
	}

	return normalize(out, maxCount)
}

// Next returns the first occurrence strictly after now.
func Next(ev model.EventDefinition, now time.Time, zone *time.Location) (model.Occurrence, bool) {
	if !ev.Active {
		return model.Occurrence{}, false
	}
	if zone == nil {
		zone = time.UTC
	}
	loc := ev.Anchor.Location(zone)
	anchor := At(ev.Anchor.At, loc)
	mk := func(t time.Time, seq int) (model.Occurrence, bool) {
		return model.Occurrence{EventID: ev.ID, Title: ev.Title, Instant: t.In(zone), Sequence: seq}, true
	}

	switch ev.Recurrence.Kind {
	case model.OneOff:
		if anchor.Time().After(now) {
			return mk(anchor.Time(), 1)
		}

	case model.Yearly:
		ay := anchor.Time().Year()
		for y := max(now.In(loc).Year(), ay); ; y++ {
			occ := anchor.AddYears(y - ay).Time()
			if occ.After(now) {
				return mk(occ, y-ay+1)
			}
		}

	case model.CustomInterval:
		if ev.Recurrence.Validate() != nil {
			return model.Occurrence{}, false
		}
		st := stepper{anchor: anchor, rec: ev.Recurrence}
		k := st.firstIndex(now, true)
		return mk(st.kth(k).Time(), k+1)
	}
	return model.Occurrence{}, false
}

func inside(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// normalize sorts, drops duplicate instants and applies the cap.
func normalize(in []model.Occurrence, maxCount int) []model.Occurrence {
	if len(in) == 0 {
		return nil
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Instant.Before(in[j].Instant) })
	out := in[:1]
	for _, o := range in[1:] {
		if o.Instant.Equal(out[len(out)-1].Instant) {
			continue
		}
		out = append(out, o)
	}
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}
