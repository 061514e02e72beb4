package app

import (
	"fmt"
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/mailer"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	amqprelay "remindd/internal/transport/amqp"
	logx "remindd/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// zone resolves scheduler.timezone; empty means UTC.
func zone(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loc, err := zone(cfg)
	if err != nil {
		return scheduler.Config{}, err
	}
	s := cfg.Scheduler
	def := scheduler.DefaultConfig()
	window, err := config.ParseDurationOrDefault("scheduler.poll_window", s.PollWindow, def.PollWindow)
	if err != nil {
		return scheduler.Config{}, err
	}
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	return scheduler.Config{
		Location:          loc,
		PollWindow:        window,
		Reminders:         pick(s.Reminders, def.Reminders),
		DailyDigest:       pick(s.DailyDigest, def.DailyDigest),
		WeeklyDigest:      pick(s.WeeklyDigest, def.WeeklyDigest),
		Cleanup:           pick(s.Cleanup, def.Cleanup),
		DailyLookoutDays:  s.DailyLookoutDays,
		WeeklyLookoutDays: s.WeeklyLookoutDays,
		RetentionDays:     s.RetentionDays,
	}, nil
}

type dispatchSettings struct {
	policy  dispatch.RetryPolicy
	rate    float64
	timeout time.Duration
}

func mapDispatchConfig(cfg *config.Config) (dispatchSettings, error) {
	d := cfg.Dispatch
	out := dispatchSettings{policy: dispatch.DefaultRetryPolicy(), rate: d.RatePerSec}
	if d.MaxAttempts > 0 {
		out.policy.MaxAttempts = d.MaxAttempts
	}
	if len(d.Backoff) > 0 {
		b, err := config.ParseDurationList("dispatch.backoff", d.Backoff)
		if err != nil {
			return dispatchSettings{}, err
		}
		out.policy.Backoff = b
	}
	t, err := config.ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, 30*time.Second)
	if err != nil {
		return dispatchSettings{}, err
	}
	out.timeout = t
	return out, nil
}

// mapMailer builds the transport. A nil mailer with a nil error means
// dispatch is not configured.
func mapMailer(cfg *config.Config, log logx.Logger) (mailer.Mailer, error) {
	mc := cfg.Mailer
	if mc == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(mc.Driver)) {
	case "", "none":
		return nil, nil
	case "log":
		return mailer.NewLog(log.With(logx.String("comp", "mailer"))), nil
	case "smtp":
		timeout, err := config.ParseDurationField("mailer.timeout", mc.Timeout)
		if err != nil {
			return nil, err
		}
		m, err := mailer.NewSMTP(mailer.SMTPConfig{
			Host:     mc.Host,
			Port:     mc.Port,
			Username: mc.Username,
			Password: mc.Password,
			From:     mc.From,
			TLS:      mc.TLS,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown mailer.driver: %s", mc.Driver)
	}
}

func mapPresenceConfig(cfg *config.Config) (amqprelay.Config, bool) {
	p := cfg.Presence
	if p == nil || strings.TrimSpace(p.AMQPURL) == "" {
		return amqprelay.Config{}, false
	}
	return amqprelay.Config{URL: strings.TrimSpace(p.AMQPURL), Exchange: p.Exchange, Queue: p.Queue}, true
}
