// Package scheduler drives the reminder check, the digests and history
// cleanup from schedule descriptors over an injectable clock.
//
// One dispatcher goroutine waits for the earliest due job. Every fired job
// runs in its own goroutine; a job class that is still running when its
// next tick arrives is skipped. Runs are detached from the dispatcher's
// context, so Stop ends ticking while in-flight runs finish.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"remindd/internal/eventbus"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type entry struct {
	kind  JobKind
	spec  string
	sched cron.Schedule
}

type counters struct {
	checks            atomic.Uint64
	notificationsSent atomic.Uint64
	digestsSent       atomic.Uint64
	errors            atomic.Uint64
	skippedRuns       atomic.Uint64
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	entries []entry

	clock   clockwork.Clock
	events  storage.EventStore
	history storage.HistoryStore
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger

	guards map[JobKind]*atomic.Bool
	stats  counters

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	runs   sync.WaitGroup
}

type Deps struct {
	Clock   clockwork.Clock
	Events  storage.EventStore
	History storage.HistoryStore
	Sender  Sender
	Bus     eventbus.Bus
	Log     logx.Logger
}

func New(cfg Config, d Deps) (*Service, error) {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	s := &Service{
		clock:   d.Clock,
		events:  d.Events,
		history: d.History,
		sender:  d.Sender,
		bus:     d.Bus,
		log:     d.Log.With(logx.String("comp", "scheduler")),
		guards:  map[JobKind]*atomic.Bool{},
		kick:    make(chan struct{}, 1),
	}
	for _, k := range allJobs {
		s.guards[k] = &atomic.Bool{}
	}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply validates and swaps the config. The dispatcher recomputes its
// next wake-up immediately.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	specs := map[JobKind]string{
		JobReminders:    cfg.Reminders,
		JobDailyDigest:  cfg.DailyDigest,
		JobWeeklyDigest: cfg.WeeklyDigest,
		JobCleanup:      cfg.Cleanup,
	}
	var entries []entry
	for _, k := range allJobs {
		sched, err := ParseSchedule(specs[k], cfg.Location)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", k, err)
		}
		if sched == nil {
			continue
		}
		entries = append(entries, entry{kind: k, spec: specs[k], sched: sched})
	}

	s.mu.Lock()
	s.cfg = cfg
	s.entries = entries
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

func (s *Service) config() (Config, []entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.entries
}

// Start begins ticking. It is idempotent and may follow a Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(lctx, s.done)
	s.log.Info("scheduler started", logx.Int("jobs", len(s.entries)), logx.String("tz", s.cfg.Location.String()))
}

// Stop ends ticking and waits, bounded by ctx, for in-flight runs.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	finished := make(chan struct{})
	go func() {
		<-done
		s.runs.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	next := map[JobKind]time.Time{}
	for {
		_, entries := s.config()
		now := s.clock.Now()

		var wake time.Time
		for _, e := range entries {
			t, ok := next[e.kind]
			if !ok {
				t = e.sched.Next(now)
				next[e.kind] = t
			}
			if wake.IsZero() || t.Before(wake) {
				wake = t
			}
		}

		var timer clockwork.Timer
		var fire <-chan time.Time
		if !wake.IsZero() {
			timer = s.clock.NewTimer(wake.Sub(now))
			fire = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.kick:
			if timer != nil {
				timer.Stop()
			}
			next = map[JobKind]time.Time{}
			continue
		case <-fire:
		}

		now = s.clock.Now()
		for _, e := range entries {
			if t := next[e.kind]; !t.After(now) {
				s.dispatch(e.kind)
				next[e.kind] = e.sched.Next(now)
			}
		}
	}
}

// dispatch starts a scheduled run unless the class is busy.
func (s *Service) dispatch(kind JobKind) {
	guard := s.guards[kind]
	if !guard.CompareAndSwap(false, true) {
		s.stats.skippedRuns.Add(1)
		s.log.Warn("previous run still in flight, skipping tick", logx.String("job", string(kind)))
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer guard.Store(false)
		s.execute(context.Background(), kind, TriggerSchedule)
	}()
}

// trigger runs kind synchronously for a manual caller.
func (s *Service) trigger(ctx context.Context, kind JobKind) RunSummary {
	guard := s.guards[kind]
	if !guard.CompareAndSwap(false, true) {
		s.stats.skippedRuns.Add(1)
		now := s.clock.Now()
		return RunSummary{Job: kind, Trigger: TriggerManual, StartedAt: now, FinishedAt: now, Skipped: true}
	}
	defer guard.Store(false)
	return s.execute(ctx, kind, TriggerManual)
}

func (s *Service) execute(ctx context.Context, kind JobKind, trigger string) (sum RunSummary) {
	sum = RunSummary{Job: kind, Trigger: trigger, StartedAt: s.clock.Now()}
	defer func() {
		if r := recover(); r != nil {
			s.stats.errors.Add(1)
			sum.Errors = append(sum.Errors, fmt.Sprintf("panic: %v", r))
			s.log.Error("job panicked", logx.String("job", string(kind)), logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
		}
		sum.FinishedAt = s.clock.Now()
		s.report(sum)
	}()

	cfg, _ := s.config()
	switch kind {
	case JobReminders:
		s.checkReminders(ctx, cfg, &sum)
	case JobDailyDigest:
		s.sendDigests(ctx, cfg, dailyDigest, &sum)
	case JobWeeklyDigest:
		s.sendDigests(ctx, cfg, weeklyDigest, &sum)
	case JobCleanup:
		s.cleanup(ctx, cfg.RetentionDays, &sum)
	}
	return sum
}

func (s *Service) report(sum RunSummary) {
	fields := []logx.Field{
		logx.String("job", string(sum.Job)),
		logx.String("trigger", sum.Trigger),
		logx.Int("due", sum.Due),
		logx.Int("sent", sum.Sent),
		logx.Int("failed", sum.Failed),
		logx.Int("skipped", sum.SkippedItems),
		logx.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if sum.Removed > 0 {
		fields = append(fields, logx.Int("removed", sum.Removed))
	}
	switch {
	case len(sum.Errors) > 0 || sum.Aborted != "":
		s.log.Warn("job finished with errors", append(fields, logx.Any("errors", sum.Errors), logx.String("aborted", sum.Aborted))...)
	case sum.Due > 0 || sum.Removed > 0:
		s.log.Info("job finished", fields...)
	default:
		s.log.Debug("job finished", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRun, Time: sum.FinishedAt, Data: sum})
	}
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	_, entries := s.config()
	st := Stats{
		Checks:            s.stats.checks.Load(),
		NotificationsSent: s.stats.notificationsSent.Load(),
		DigestsSent:       s.stats.digestsSent.Load(),
		Errors:            s.stats.errors.Load(),
		SkippedRuns:       s.stats.skippedRuns.Load(),
		Running:           s.Running(),
	}
	for _, e := range entries {
		st.Jobs = append(st.Jobs, JobInfo{Kind: e.kind, Schedule: e.spec, InFlight: s.guards[e.kind].Load()})
	}
	return st
}

// CheckNow runs the reminder check immediately.
func (s *Service) CheckNow(ctx context.Context) RunSummary { return s.trigger(ctx, JobReminders) }

// SendDailyDigestNow sends the daily digest immediately.
func (s *Service) SendDailyDigestNow(ctx context.Context) RunSummary {
	return s.trigger(ctx, JobDailyDigest)
}

// SendWeeklyDigestNow sends the weekly digest immediately.
func (s *Service) SendWeeklyDigestNow(ctx context.Context) RunSummary {
	return s.trigger(ctx, JobWeeklyDigest)
}

// Cleanup removes history older than olderThanDays (the configured
// retention when <= 0).
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) RunSummary {
	guard := s.guards[JobCleanup]
	if !guard.CompareAndSwap(false, true) {
		s.stats.skippedRuns.Add(1)
		now := s.clock.Now()
		return RunSummary{Job: JobCleanup, Trigger: TriggerManual, StartedAt: now, FinishedAt: now, Skipped: true}
	}
	defer guard.Store(false)

	if olderThanDays <= 0 {
		cfg, _ := s.config()
		olderThanDays = cfg.RetentionDays
	}
	sum := RunSummary{Job: JobCleanup, Trigger: TriggerManual, StartedAt: s.clock.Now()}
	s.cleanup(ctx, olderThanDays, &sum)
	sum.FinishedAt = s.clock.Now()
	s.report(sum)
	return sum
}

// Location is the zone schedules and digests are computed in.
func (s *Service) Location() *time.Location {
	cfg, _ := s.config()
	return cfg.Location
}
