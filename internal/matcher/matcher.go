// Package matcher decides which reminders are due in the current poll window.
package matcher

import (
	"time"

	"remindd/internal/model"
	"remindd/internal/recurrence"
)

// FindDue returns one DueNotification for every (event, recipient) pair
// whose notify time (occurrence minus lead time) falls in
// [now - window, now]. Equivalently now lies in [notifyAt, notifyAt+window).
//
// The result follows event order, then recipient order. Nothing is
// persisted, so a restart inside the window can repeat a reminder and a
// stall longer than the window can skip one.
func FindDue(events []model.ScheduledEvent, now time.Time, window time.Duration, zone *time.Location) []model.DueNotification {
	if window <= 0 {
		return nil
	}
	var out []model.DueNotification
	for _, ev := range events {
		if !ev.Active {
			continue
		}
		for _, r := range ev.Recipients {
			if r.LeadTimeHours < 0 {
				continue
			}
			lead := r.LeadTime()
			// First occurrence strictly after now+lead-window; due when it
			// is no later than now+lead.
			occ, ok := recurrence.Next(ev.EventDefinition, now.Add(lead-window), zone)
			if !ok || occ.Instant.After(now.Add(lead)) {
				continue
			}
			out = append(out, model.DueNotification{
				EventID:           ev.ID,
				RecipientEmail:    r.Email,
				OccurrenceInstant: occ.Instant,
				LeadTimeHours:     r.LeadTimeHours,
				Category:          model.CategoryReminder,
			})
		}
	}
	return out
}
