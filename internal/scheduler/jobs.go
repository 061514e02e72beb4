package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindd/internal/digest"
	"remindd/internal/dispatch"
	"remindd/internal/matcher"
	"remindd/internal/model"
	"remindd/internal/render"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

const (
	dailyDigest  = digest.Daily
	weeklyDigest = digest.Weekly
)

// errAbort stops a run after a configuration error.
var errAbort = errors.New("run aborted")

func (s *Service) checkReminders(ctx context.Context, cfg Config, sum *RunSummary) {
	s.stats.checks.Add(1)
	if !s.ready(sum) {
		return
	}
	events, err := s.events.FindActiveEvents(ctx)
	if err != nil {
		s.fail(sum, fmt.Errorf("load events: %w", err))
		return
	}

	due := matcher.FindDue(events, s.clock.Now(), cfg.PollWindow, cfg.Location)
	sum.Due = len(due)
	for _, d := range due {
		if err := s.isolate(sum, func() error { return s.sendReminder(ctx, d, sum) }); errors.Is(err, errAbort) {
			return
		}
	}
}

func (s *Service) sendReminder(ctx context.Context, d model.DueNotification, sum *RunSummary) error {
	// The event may have changed since it was matched.
	ev, err := s.events.FindEvent(ctx, d.EventID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sum.SkippedItems++
		s.log.Info("event vanished before send", logx.String("event", d.EventID))
		return nil
	case err != nil:
		return fmt.Errorf("load event %s: %w", d.EventID, err)
	case !ev.Active || !ev.HasRecipient(d.RecipientEmail):
		sum.SkippedItems++
		s.log.Info("event no longer applies, skipping", logx.String("event", d.EventID), logx.String("to", d.RecipientEmail))
		return nil
	}

	out, err := s.sender.Send(ctx, render.Payload{
		Category:      model.CategoryReminder,
		Recipient:     d.RecipientEmail,
		Event:         &ev.EventDefinition,
		Occurrence:    d.OccurrenceInstant,
		LeadTimeHours: d.LeadTimeHours,
	})
	if out.Status != "" {
		s.countOutcome(sum, out, &s.stats.notificationsSent)
	}
	if err != nil {
		return s.sendError(sum, err)
	}
	return nil
}

func (s *Service) sendDigests(ctx context.Context, cfg Config, kind digest.Kind, sum *RunSummary) {
	if !s.ready(sum) {
		return
	}
	events, err := s.events.FindActiveEvents(ctx)
	if err != nil {
		s.fail(sum, fmt.Errorf("load events: %w", err))
		return
	}

	lookout := cfg.DailyLookoutDays
	if kind == weeklyDigest {
		lookout = cfg.WeeklyLookoutDays
	}
	digests := digest.Build(events, kind, lookout, cfg.Location, s.clock.Now())
	sum.Due = len(digests)
	for i := range digests {
		d := digests[i]
		err := s.isolate(sum, func() error {
			out, err := s.sender.Send(ctx, render.Payload{Category: kind.Category(), Recipient: d.Recipient, Digest: &d})
			if out.Status != "" {
				s.countOutcome(sum, out, &s.stats.digestsSent)
			}
			if err != nil {
				return s.sendError(sum, err)
			}
			return nil
		})
		if errors.Is(err, errAbort) {
			return
		}
	}
}

func (s *Service) cleanup(ctx context.Context, olderThanDays int, sum *RunSummary) {
	if s.history == nil {
		s.fail(sum, errors.New("history store not configured"))
		return
	}
	cutoff := s.clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := s.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.fail(sum, fmt.Errorf("delete history: %w", err))
		return
	}
	sum.Removed = n
}

// ready reports whether dispatch can work; otherwise the run is aborted
// with a single warning.
func (s *Service) ready(sum *RunSummary) bool {
	if s.sender == nil {
		sum.Aborted = dispatch.ErrNotConfigured.Error()
	} else if err := s.sender.Ready(); err != nil {
		sum.Aborted = err.Error()
	}
	if sum.Aborted == "" && s.events == nil {
		sum.Aborted = "event store not configured"
	}
	if sum.Aborted != "" {
		s.stats.errors.Add(1)
		s.log.Warn("run aborted", logx.String("job", string(sum.Job)), logx.String("reason", sum.Aborted))
		return false
	}
	return true
}

func (s *Service) sendError(sum *RunSummary, err error) error {
	if dispatch.IsConfiguration(err) {
		sum.Aborted = err.Error()
		s.stats.errors.Add(1)
		s.log.Warn("run aborted", logx.String("job", string(sum.Job)), logx.String("reason", sum.Aborted))
		return errAbort
	}
	return err
}

func (s *Service) countOutcome(sum *RunSummary, out dispatch.Outcome, sent interface{ Add(uint64) uint64 }) {
	if out.Sent() {
		sum.Sent++
		sent.Add(1)
		return
	}
	sum.Failed++
	s.stats.errors.Add(1)
}

// isolate runs one item so that its error or panic cannot end the run.
func (s *Service) isolate(sum *RunSummary, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.fail(sum, err)
		}
	}()
	err = fn()
	if err != nil && !errors.Is(err, errAbort) {
		s.fail(sum, err)
	}
	return err
}

func (s *Service) fail(sum *RunSummary, err error) {
	s.stats.errors.Add(1)
	sum.Errors = append(sum.Errors, err.Error())
	s.log.Error("job item failed", logx.String("job", string(sum.Job)), logx.Err(err))
}
