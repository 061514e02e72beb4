package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate performs static checks that need no other package: zones,
// durations, driver names and numeric ranges. Schedule descriptors are
// checked by the scheduler when the config is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	s := cfg.Scheduler
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: unknown zone %q", tz))
		}
	}
	_, err := ParseDurationField("scheduler.poll_window", s.PollWindow)
	add(err)
	for name, v := range map[string]int{
		"scheduler.daily_lookout_days":  s.DailyLookoutDays,
		"scheduler.weekly_lookout_days": s.WeeklyLookoutDays,
		"scheduler.retention_days":      s.RetentionDays,
	} {
		if v < 0 {
			add(fmt.Errorf("%s: must be >= 0", name))
		}
	}

	d := cfg.Dispatch
	if d.MaxAttempts < 0 {
		add(errors.New("dispatch.max_attempts: must be >= 0"))
	}
	if d.RatePerSec < 0 {
		add(errors.New("dispatch.rate_per_sec: must be >= 0"))
	}
	_, err = ParseDurationList("dispatch.backoff", d.Backoff)
	add(err)
	_, err = ParseDurationField("dispatch.send_timeout", d.SendTimeout)
	add(err)

	if m := cfg.Mailer; m != nil {
		switch strings.ToLower(strings.TrimSpace(m.Driver)) {
		case "", "none", "log":
		case "smtp":
			if strings.TrimSpace(m.Host) == "" {
				add(errors.New("mailer.host: required for smtp"))
			}
			if strings.TrimSpace(m.From) == "" {
				add(errors.New("mailer.from: required for smtp"))
			}
		default:
			add(fmt.Errorf("mailer.driver: unknown driver %q", m.Driver))
		}
		switch strings.ToLower(strings.TrimSpace(m.TLS)) {
		case "", "opportunistic", "mandatory", "none":
		default:
			add(fmt.Errorf("mailer.tls: unknown mode %q", m.TLS))
		}
		if m.Port < 0 || m.Port > 65535 {
			add(fmt.Errorf("mailer.port: out of range: %d", m.Port))
		}
		_, err = ParseDurationField("mailer.timeout", m.Timeout)
		add(err)
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path: required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	if p := cfg.Presence; p != nil && strings.TrimSpace(p.AMQPURL) != "" {
		u := strings.ToLower(strings.TrimSpace(p.AMQPURL))
		if !strings.HasPrefix(u, "amqp://") && !strings.HasPrefix(u, "amqps://") {
			add(errors.New("presence.amqp_url: must start with amqp:// or amqps://"))
		}
	}

	return errors.Join(errs...)
}
