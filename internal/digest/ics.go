package digest

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"remindd/internal/model"
	"remindd/internal/recurrence"
)

const productID = "-//remindd//digest//EN"

// defaultEventLength is used for DTEND; events carry no duration.
const defaultEventLength = time.Hour

// Calendar renders the digest occurrences as an iCalendar document.
func Calendar(d Digest) string {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, o := range d.Occurrences {
		ev := cal.AddEvent(fmt.Sprintf("%s-%d@remindd", o.EventID, o.Sequence))
		ev.SetDtStampTime(d.GeneratedAt.UTC())
		ev.SetStartAt(o.Instant)
		ev.SetEndAt(o.Instant.Add(defaultEventLength))
		ev.SetSummary(o.Title)
		if def, ok := d.Events[o.EventID]; ok && def.Description != "" {
			ev.SetDescription(def.Description)
		}
	}
	return cal.Serialize()
}

// ExportCalendar renders every active event as a recurring iCalendar event,
// for subscribing to the whole schedule.
func ExportCalendar(events []model.ScheduledEvent, zone *time.Location, now time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, se := range events {
		if !se.Active {
			continue
		}
		start := se.Anchor.At.In(se.Anchor.Location(zone))
		ev := cal.AddEvent(se.ID + "@remindd")
		ev.SetDtStampTime(now.UTC())
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(defaultEventLength))
		ev.SetSummary(se.Title)
		if se.Description != "" {
			ev.SetDescription(se.Description)
		}
		opt, ok, err := recurrence.RuleOption(se.EventDefinition, zone)
		if err != nil {
			return "", fmt.Errorf("event %s: %w", se.ID, err)
		}
		if ok {
			ev.AddRrule(opt.RRuleString())
		}
	}
	return cal.Serialize(), nil
}
