package model

import (
	"fmt"
	"strings"
	"time"

	// Anchor zones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// Kind is the recurrence rule family of an event.
type Kind string

const (
	OneOff         Kind = "one_off"
	Yearly         Kind = "yearly"
	CustomInterval Kind = "custom_interval"
)

// Unit is the step unit of a CustomInterval recurrence.
type Unit string

const (
	Days   Unit = "days"
	Months Unit = "months"
	Years  Unit = "years"
)

const (
	MinIntervalValue = 1
	MaxIntervalValue = 1000
)

// Recurrence describes how an event repeats. Value and Unit are only
// meaningful for CustomInterval.
type Recurrence struct {
	Kind  Kind `json:"kind" yaml:"kind"`
	Value int  `json:"value,omitempty" yaml:"value,omitempty"`
	Unit  Unit `json:"unit,omitempty" yaml:"unit,omitempty"`
}

func (r Recurrence) String() string {
	if r.Kind == CustomInterval {
		return fmt.Sprintf("every %d %s", r.Value, r.Unit)
	}
	return string(r.Kind)
}

// Anchor is the first occurrence together with the zone that governs
// calendar arithmetic for all later occurrences.
type Anchor struct {
	At   time.Time
	Zone string
}

// Location resolves the anchor zone, falling back to fallback and then UTC.
func (a Anchor) Location(fallback *time.Location) *time.Location {
	if z := strings.TrimSpace(a.Zone); z != "" {
		if loc, err := time.LoadLocation(z); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

type EventDefinition struct {
	ID          string
	Title       string
	Description string
	Anchor      Anchor
	Recurrence  Recurrence
	Active      bool
}

// RecipientLink binds a recipient to an event. LeadTimeHours is how long
// before an occurrence the reminder goes out.
type RecipientLink struct {
	Email         string `json:"email" yaml:"email"`
	LeadTimeHours int    `json:"lead_time_hours" yaml:"lead_time_hours"`
}

func (r RecipientLink) LeadTime() time.Duration {
	return time.Duration(r.LeadTimeHours) * time.Hour
}

// ScheduledEvent is an event definition with its recipient links, the
// shape in which stores hand events to the engine.
type ScheduledEvent struct {
	EventDefinition
	Recipients []RecipientLink
}

// HasRecipient reports whether email is linked to the event.
func (e ScheduledEvent) HasRecipient(email string) bool {
	for _, r := range e.Recipients {
		if strings.EqualFold(r.Email, email) {
			return true
		}
	}
	return false
}

// Occurrence is one concrete instant at which an event happens. Sequence
// starts at 1 for the anchor.
type Occurrence struct {
	EventID  string    `json:"event_id"`
	Title    string    `json:"title,omitempty"`
	Instant  time.Time `json:"instant"`
	Sequence int       `json:"sequence"`
}
