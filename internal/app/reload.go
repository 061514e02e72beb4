package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/render"
	logx "remindd/pkg/logx"
)

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts to the newest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, last, newCfg)
			last = newCfg
		}
	}
}

// applyConfig pushes a validated config into the running components.
// Storage changes need a restart.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	has := func(s string) bool { return slices.Contains(sections, s) }

	if has("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if has("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if has("dispatch") {
		if ds, err := mapDispatchConfig(newCfg); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else {
			a.dispatch.Apply(ds.policy, ds.rate, ds.timeout)
		}
	}
	if has("mailer") {
		m, err := mapMailer(newCfg, a.log)
		if err != nil {
			a.log.Warn("mailer not usable; dispatch disabled", logx.Err(err))
		}
		a.dispatch.SetMailer(m)
	}
	if has("render") || has("scheduler") {
		if loc, err := zone(newCfg); err == nil {
			if t, err := render.New(newCfg.Render.TemplatesDir, loc); err != nil {
				a.log.Warn("templates not usable; keeping previous", logx.Err(err))
			} else {
				a.dispatch.SetRenderer(t)
			}
		}
	}

	if has("scheduler") {
		a.applyScheduler(c, oldCfg, newCfg)
	}
	if has("presence") {
		a.log.Warn("presence config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(c context.Context, oldCfg, newCfg *config.Config) {
	scfg, err := mapSchedulerConfig(newCfg)
	if err == nil {
		err = a.sched.Apply(scfg)
	}
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}

	was, now := oldCfg.Scheduler.IsEnabled(), newCfg.Scheduler.IsEnabled()
	switch {
	case was && !now:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 30*time.Second)
		if err := a.sched.Stop(stopCtx); err != nil {
			a.log.Warn("scheduler stop incomplete", logx.Err(err))
		}
		cancel()
	case !was && now:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}
}
