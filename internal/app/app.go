// Package app wires configuration, storage, dispatch, presence and the
// scheduler into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/eventbus"
	"remindd/internal/model"
	"remindd/internal/presence"
	"remindd/internal/render"
	"remindd/internal/runtime/supervisor"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	amqprelay "remindd/internal/transport/amqp"
	logx "remindd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	dispatch *dispatch.Engine
	presence *presence.Registry
	sched    *scheduler.Service
}

// New loads the config and builds every component without starting
// background work. One-shot commands use it as is.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLogging(cfg))
	cfgm.SetLogger(log)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; jobs will abort until storage is configured")
	}

	loc, err := zone(cfg)
	if err != nil {
		return nil, err
	}
	tmpl, err := render.New(cfg.Render.TemplatesDir, loc)
	if err != nil {
		return nil, err
	}
	m, err := mapMailer(cfg, log)
	if err != nil && !dispatch.IsConfiguration(err) {
		return nil, err
	}
	if m == nil {
		log.Warn("mailer not configured; dispatch disabled", logx.Any("reason", errString(err)))
	}
	ds, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}

	reg := presence.New(bus, log)
	opts := dispatch.Options{
		Renderer:    tmpl,
		Mailer:      m,
		Presence:    reg,
		Policy:      ds.policy,
		RatePerSec:  ds.rate,
		SendTimeout: ds.timeout,
		Bus:         bus,
		Log:         log,
	}
	if store != nil {
		opts.History = store
	}
	eng := dispatch.New(opts)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	deps := scheduler.Deps{Sender: eng, Bus: bus, Log: log}
	if store != nil {
		deps.Events, deps.History = store, store
	}
	sched, err := scheduler.New(scfg, deps)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		dispatch: eng,
		presence: reg,
		sched:    sched,
	}, nil
}

func errString(err error) string {
	if err == nil {
		return "mailer section missing or driver none"
	}
	return err.Error()
}

// validateConfig gates both the initial load and hot reloads.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	for name, raw := range map[string]string{
		"scheduler.reminders":     scfg.Reminders,
		"scheduler.daily_digest":  scfg.DailyDigest,
		"scheduler.weekly_digest": scfg.WeeklyDigest,
		"scheduler.cleanup":       scfg.Cleanup,
	} {
		if _, err := scheduler.ParseSchedule(raw, scfg.Location); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := render.New(cfg.Render.TemplatesDir, scfg.Location); err != nil {
		return fmt.Errorf("render.templates_dir: %w", err)
	}
	return nil
}

func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) Store() storage.Store { return a.store }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Presence() *presence.Registry { return a.presence }
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the scheduler, the presence relay and config hot reload.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if cfg.Scheduler.IsEnabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled via config")
	}

	if rc, ok := mapPresenceConfig(cfg); ok {
		a.startRelay(rc)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logBusEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, "READY=1")
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// logBusEvents mirrors bus traffic at debug level and warns when
// subscribers lost events since the last report.
func (a *App) logBusEvents(c context.Context, events <-chan eventbus.Event) {
	var reported uint64
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if d := a.bus.Dropped(); d > reported {
				a.log.Warn("eventbus subscribers dropped events", logx.Uint64("dropped", d-reported), logx.Uint64("total", d))
				reported = d
			}
		}
	}
}

// startRelay keeps a RabbitMQ relay connected under the supervisor.
func (a *App) startRelay(rc amqprelay.Config) {
	a.sup.GoRestart("presence.relay", func(c context.Context) error {
		rel, err := amqprelay.Dial(c, rc, a.log)
		if err != nil {
			return err
		}
		a.presence.SetRelay(rel)
		defer func() {
			a.presence.SetRelay(nil)
			_ = rel.Close()
		}()
		return rel.Consume(c, func(_ context.Context, n model.Notice) error {
			if !a.presence.Deliver(n) {
				a.log.Debug("relayed notice has no local session", logx.String("to", n.Recipient))
			}
			return nil
		})
	}, time.Second, 30*time.Second)
}

// Stop ends background work in dependency order, each step bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return nil
	}
	sdNotify(a.log, "STOPPING=1")
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 30*time.Second, a.sched.Stop)
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// step runs fn bounded by max and by the caller's deadline, whichever is
// sooner. A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline passed)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
