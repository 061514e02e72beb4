package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindd/pkg/logx"
)

// SummarizeChange lists the changed sections and log-safe attrs describing
// the new values. Secrets are reported only as "_set" booleans.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.IsEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.reminders", s.Reminders),
			logx.String("scheduler.daily_digest", s.DailyDigest),
			logx.String("scheduler.weekly_digest", s.WeeklyDigest),
			logx.String("scheduler.cleanup", s.Cleanup),
			logx.Int("scheduler.retention_days", s.RetentionDays),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		d := newCfg.Dispatch
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.max_attempts", d.MaxAttempts),
			logx.String("dispatch.backoff", strings.Join(d.Backoff, ",")),
			logx.Any("dispatch.rate_per_sec", d.RatePerSec),
			logx.String("dispatch.send_timeout", d.SendTimeout),
		)
	}

	if !reflect.DeepEqual(derefMailer(oldCfg.Mailer), derefMailer(newCfg.Mailer)) {
		mc := derefMailer(newCfg.Mailer)
		changed = append(changed, "mailer")
		attrs = append(attrs,
			logx.String("mailer.driver", mc.Driver),
			logx.String("mailer.host", mc.Host),
			logx.Int("mailer.port", mc.Port),
			logx.String("mailer.from", mc.From),
			logx.Bool("mailer.password_set", mc.Password != ""),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", nS.BusyTimeout),
		)
	}

	var oP, nP PresenceConfig
	if oldCfg.Presence != nil {
		oP = *oldCfg.Presence
	}
	if newCfg.Presence != nil {
		nP = *newCfg.Presence
	}
	if oP != nP {
		changed = append(changed, "presence")
		attrs = append(attrs,
			logx.Bool("presence.amqp_set", nP.AMQPURL != ""),
			logx.String("presence.exchange", nP.Exchange),
		)
	}

	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
		attrs = append(attrs, logx.String("render.templates_dir", newCfg.Render.TemplatesDir))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefMailer(m *MailerConfig) MailerConfig {
	if m == nil {
		return MailerConfig{}
	}
	return *m
}
