package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// EventInput is the boundary form of an event as it arrives from import
// files. Validate turns it into a definition; nothing downstream
// re-validates.
type EventInput struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Start       string          `json:"start" yaml:"start"`
	Zone        string          `json:"zone,omitempty" yaml:"zone,omitempty"`
	Recurrence  Recurrence      `json:"recurrence" yaml:"recurrence"`
	Active      *bool           `json:"active,omitempty" yaml:"active,omitempty"`
	Recipients  []RecipientLink `json:"recipients,omitempty" yaml:"recipients,omitempty"`
}

var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Validate checks the input and builds the scheduled event. Start strings
// without an offset are read as wall clock time in Zone.
func (in EventInput) Validate() (ScheduledEvent, error) {
	var out ScheduledEvent
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return out, invalid("id", "required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return out, invalid("title", "required")
	}

	loc := time.UTC
	zone := strings.TrimSpace(in.Zone)
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return out, invalid("zone", "unknown time zone %q", zone)
		}
		loc = l
	}

	at, err := parseStart(strings.TrimSpace(in.Start), loc)
	if err != nil {
		return out, err
	}
	if zone == "" {
		zone = loc.String()
	}

	if err := in.Recurrence.Validate(); err != nil {
		return out, err
	}
	rec := in.Recurrence
	if rec.Kind != CustomInterval {
		rec.Value, rec.Unit = 0, ""
	}

	recips := make([]RecipientLink, 0, len(in.Recipients))
	seen := make(map[string]struct{}, len(in.Recipients))
	for i, r := range in.Recipients {
		addr, err := mail.ParseAddress(strings.TrimSpace(r.Email))
		if err != nil {
			return out, invalid(fmt.Sprintf("recipients[%d].email", i), "%v", err)
		}
		if r.LeadTimeHours < 0 {
			return out, invalid(fmt.Sprintf("recipients[%d].lead_time_hours", i), "must be >= 0")
		}
		key := strings.ToLower(addr.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recips = append(recips, RecipientLink{Email: addr.Address, LeadTimeHours: r.LeadTimeHours})
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	out = ScheduledEvent{
		EventDefinition: EventDefinition{
			ID:          id,
			Title:       title,
			Description: strings.TrimSpace(in.Description),
			Anchor:      Anchor{At: at, Zone: zone},
			Recurrence:  rec,
			Active:      active,
		},
		Recipients: recips,
	}
	return out, nil
}

// Validate checks kind, unit and the interval bounds.
func (r Recurrence) Validate() error {
	switch r.Kind {
	case OneOff, Yearly:
		return nil
	case CustomInterval:
	case "":
		return invalid("recurrence.kind", "required")
	default:
		return invalid("recurrence.kind", "unknown kind %q", r.Kind)
	}
	if r.Value < MinIntervalValue || r.Value > MaxIntervalValue {
		return invalid("recurrence.value", "must be within [%d, %d], got %d", MinIntervalValue, MaxIntervalValue, r.Value)
	}
	switch r.Unit {
	case Days, Months, Years:
		return nil
	case "":
		return invalid("recurrence.unit", "required")
	default:
		return invalid("recurrence.unit", "unknown unit %q", r.Unit)
	}
}

func parseStart(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, invalid("start", "required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range startLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("start", "unrecognised timestamp %q", s)
}
