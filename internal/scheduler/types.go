package scheduler

import (
	"context"
	"time"

	"remindd/internal/dispatch"
	"remindd/internal/render"
)

// JobKind names a job class. At most one run per class is in flight.
type JobKind string

const (
	JobReminders    JobKind = "reminders"
	JobDailyDigest  JobKind = "daily_digest"
	JobWeeklyDigest JobKind = "weekly_digest"
	JobCleanup      JobKind = "cleanup"
)

var allJobs = []JobKind{JobReminders, JobDailyDigest, JobWeeklyDigest, JobCleanup}

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// EventRun is published on the bus with a RunSummary after every run.
const EventRun = "scheduler.run"

// Sender is the dispatch side the scheduler drives.
type Sender interface {
	Ready() error
	Send(ctx context.Context, p render.Payload) (dispatch.Outcome, error)
}

// Config controls the scheduler. Schedules are descriptors understood by
// ParseSchedule; an empty descriptor disables the job.
type Config struct {
	Location          *time.Location
	PollWindow        time.Duration
	Reminders         string
	DailyDigest       string
	WeeklyDigest      string
	Cleanup           string
	DailyLookoutDays  int
	WeeklyLookoutDays int
	RetentionDays     int
}

func DefaultConfig() Config {
	return Config{
		Location:          time.UTC,
		PollWindow:        5 * time.Minute,
		Reminders:         "every:5m",
		DailyDigest:       "daily 07:00",
		WeeklyDigest:      "weekly mon 07:00",
		Cleanup:           "daily 03:30",
		DailyLookoutDays:  1,
		WeeklyLookoutDays: 7,
		RetentionDays:     90,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.PollWindow <= 0 {
		c.PollWindow = d.PollWindow
	}
	if c.DailyLookoutDays <= 0 {
		c.DailyLookoutDays = d.DailyLookoutDays
	}
	if c.WeeklyLookoutDays <= 0 {
		c.WeeklyLookoutDays = d.WeeklyLookoutDays
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	return c
}

// RunSummary is the structured result of one job run.
type RunSummary struct {
	Job        JobKind   `json:"job"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Skipped is set when another run of the same job was in flight.
	Skipped bool `json:"skipped,omitempty"`
	// Aborted carries the configuration error that stopped the run.
	Aborted      string   `json:"aborted,omitempty"`
	Due          int      `json:"due"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	SkippedItems int      `json:"skipped_items"`
	Removed      int      `json:"removed,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Stats are monotonically increasing counters since process start.
type Stats struct {
	Checks            uint64    `json:"checks"`
	NotificationsSent uint64    `json:"notifications_sent"`
	DigestsSent       uint64    `json:"digests_sent"`
	Errors            uint64    `json:"errors"`
	SkippedRuns       uint64    `json:"skipped_runs"`
	Running           bool      `json:"running"`
	Jobs              []JobInfo `json:"jobs"`
}

type JobInfo struct {
	Kind     JobKind `json:"kind"`
	Schedule string  `json:"schedule"`
	InFlight bool    `json:"in_flight"`
}
