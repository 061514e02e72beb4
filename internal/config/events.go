package config

import (
	"errors"
	"fmt"

	"remindd/internal/model"
)

// EventsFile is the import format:
//
//	events:
//	  - id: mum-birthday
//	    title: Mum's birthday
//	    start: "1960-03-14"
//	    zone: Europe/Berlin
//	    recurrence: { kind: yearly }
//	    recipients:
//	      - { email: me@example.com, lead_time_hours: 48 }
type EventsFile struct {
	Events []model.EventInput `json:"events"`
}

// LoadEvents decodes and validates an events file. Every invalid entry is
// reported; duplicate ids are rejected.
func LoadEvents(path string) ([]model.ScheduledEvent, error) {
	var f EventsFile
	if err := DecodeFile(path, &f); err != nil {
		return nil, err
	}
	var (
		out  = make([]model.ScheduledEvent, 0, len(f.Events))
		errs []error
		ids  = map[string]int{}
	)
	for i, in := range f.Events {
		ev, err := in.Validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("events[%d]: %w", i, err))
			continue
		}
		if j, dup := ids[ev.ID]; dup {
			errs = append(errs, fmt.Errorf("events[%d]: duplicate id %q (first at events[%d])", i, ev.ID, j))
			continue
		}
		ids[ev.ID] = i
		out = append(out, ev)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
