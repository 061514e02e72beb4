// Package digest aggregates upcoming occurrences into per-recipient digests.
package digest

import (
	"sort"
	"strings"
	"time"

	"remindd/internal/model"
	"remindd/internal/recurrence"
)

// PerEventCap bounds how many occurrences one event contributes to a digest.
const PerEventCap = 10

// Kind selects the digest flavour.
type Kind string

const (
	Daily  Kind = "daily"
	Weekly Kind = "weekly"
)

// Category maps the digest kind to its history category.
func (k Kind) Category() model.Category {
	if k == Weekly {
		return model.CategoryWeeklyDigest
	}
	return model.CategoryDailyDigest
}

// Digest is the content of one digest message.
type Digest struct {
	Kind        Kind
	Recipient   string
	GeneratedAt time.Time
	LookoutDays int
	Occurrences []model.Occurrence
	Events      map[string]model.EventDefinition
}

// Upcoming returns the union of every active event's occurrences in
// [now, now+lookoutDays], each event capped at PerEventCap, ascending.
func Upcoming(events []model.ScheduledEvent, lookoutDays int, zone *time.Location, now time.Time) []model.Occurrence {
	if lookoutDays <= 0 {
		return nil
	}
	end := now.AddDate(0, 0, lookoutDays)
	var out []model.Occurrence
	for _, ev := range events {
		out = append(out, recurrence.InRange(ev.EventDefinition, now, end, zone, PerEventCap)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Instant.Equal(out[j].Instant) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Instant.Before(out[j].Instant)
	})
	return out
}

// ForRecipient keeps the occurrences whose event links email.
func ForRecipient(occ []model.Occurrence, events []model.ScheduledEvent, email string) []model.Occurrence {
	linked := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.HasRecipient(email) {
			linked[ev.ID] = true
		}
	}
	var out []model.Occurrence
	for _, o := range occ {
		if linked[o.EventID] {
			out = append(out, o)
		}
	}
	return out
}

// Recipients lists every linked email once, in first-seen order.
func Recipients(events []model.ScheduledEvent) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ev := range events {
		if !ev.Active {
			continue
		}
		for _, r := range ev.Recipients {
			key := strings.ToLower(r.Email)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r.Email)
		}
	}
	return out
}

// Build produces one digest per recipient with at least one upcoming occurrence.
func Build(events []model.ScheduledEvent, kind Kind, lookoutDays int, zone *time.Location, now time.Time) []Digest {
	all := Upcoming(events, lookoutDays, zone, now)
	if len(all) == 0 {
		return nil
	}
	defs := make(map[string]model.EventDefinition, len(events))
	for _, ev := range events {
		defs[ev.ID] = ev.EventDefinition
	}

	var out []Digest
	for _, email := range Recipients(events) {
		occ := ForRecipient(all, events, email)
		if len(occ) == 0 {
			continue
		}
		used := make(map[string]model.EventDefinition)
		for _, o := range occ {
			used[o.EventID] = defs[o.EventID]
		}
		out = append(out, Digest{
			Kind:        kind,
			Recipient:   email,
			GeneratedAt: now,
			LookoutDays: lookoutDays,
			Occurrences: occ,
			Events:      used,
		})
	}
	return out
}
