package config

// Config is the on-disk configuration. All durations are Go duration
// strings ("500ms", "15s", "5m"). Omitted sections fall back to runtime
// defaults; storage, mailer and presence are optional.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Mailer    *MailerConfig   `json:"mailer,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Presence  *PresenceConfig `json:"presence,omitempty"`
	Render    RenderConfig    `json:"render"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the job schedules.
//
// Schedule descriptors: "every:5m", "daily 07:00", "weekly mon 07:00",
// "cron:0 7 * * *" or "off".
//
// Defaults:
//   - timezone: "UTC"
//   - poll_window: "5m"
//   - reminders: "every:5m"
//   - daily_digest: "daily 07:00"
//   - weekly_digest: "weekly mon 07:00"
//   - cleanup: "daily 03:30"
//   - daily_lookout_days: 1, weekly_lookout_days: 7
//   - retention_days: 90
type SchedulerConfig struct {
	Enabled           *bool  `json:"enabled,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
	PollWindow        string `json:"poll_window,omitempty"`
	Reminders         string `json:"reminders,omitempty"`
	DailyDigest       string `json:"daily_digest,omitempty"`
	WeeklyDigest      string `json:"weekly_digest,omitempty"`
	Cleanup           string `json:"cleanup,omitempty"`
	DailyLookoutDays  int    `json:"daily_lookout_days,omitempty"`
	WeeklyLookoutDays int    `json:"weekly_lookout_days,omitempty"`
	RetentionDays     int    `json:"retention_days,omitempty"`
}

// IsEnabled defaults to true when omitted.
func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// DispatchConfig controls retries and pacing of outgoing mail.
//
// Backoff lists the wait before each retry; the last entry repeats.
type DispatchConfig struct {
	MaxAttempts int      `json:"max_attempts,omitempty"`
	Backoff     []string `json:"backoff,omitempty"`
	RatePerSec  float64  `json:"rate_per_sec,omitempty"`
	SendTimeout string   `json:"send_timeout,omitempty"`
}

// MailerConfig selects the transport.
//
// Driver values:
//   - "smtp": deliver through Host
//   - "log": keep messages in memory and log them
//   - "none" or "": dispatch is not configured; runs abort
type MailerConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // never logged
	From     string `json:"from,omitempty"`
	// TLS is "opportunistic" (default), "mandatory" or "none".
	TLS     string `json:"tls,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	storage: { driver: sqlite, path: ./remindd.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PresenceConfig enables the RabbitMQ relay for presence notices. Without
// it notices only reach sessions of this process.
type PresenceConfig struct {
	AMQPURL  string `json:"amqp_url"` // never logged
	Exchange string `json:"exchange,omitempty"`
	Queue    string `json:"queue,omitempty"`
}

// RenderConfig points at a directory whose *.tmpl files override the
// built-in templates.
type RenderConfig struct {
	TemplatesDir string `json:"templates_dir,omitempty"`
}
