package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule descriptors are plain strings:
//
//   - "every:5m", "interval:1h" or a bare duration "5m": fixed interval
//   - "daily 07:30": every day at a wall clock time
//   - "weekly mon 08:00": one weekday at a wall clock time
//   - "cron:0 7 * * *" or any cron expression / descriptor ("@hourly")
//   - "off" or "": disabled
//
// Times and cron fields are evaluated in the scheduler's timezone.

var (
	reDaily  = regexp.MustCompile(`^daily\s+(\d{1,2}):(\d{2})$`)
	reWeekly = regexp.MustCompile(`^weekly\s+([a-z]{3})[a-z]*\s+(\d{1,2}):(\d{2})$`)
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule compiles a descriptor. A nil schedule with a nil error
// means the job is disabled.
func ParseSchedule(raw string, loc *time.Location) (cron.Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	switch {
	case low == "" || low == "off" || low == "disabled":
		return nil, nil

	case strings.HasPrefix(low, "every:"), strings.HasPrefix(low, "interval:"):
		v := strings.TrimSpace(s[strings.Index(s, ":")+1:])
		return parseEvery(v)

	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)

	case reDaily.MatchString(low):
		m := reDaily.FindStringSubmatch(low)
		h, mi, err := hhmm(m[1], m[2])
		if err != nil {
			return nil, err
		}
		return parseCron(fmt.Sprintf("%d %d * * *", mi, h), loc)

	case reWeekly.MatchString(low):
		m := reWeekly.FindStringSubmatch(low)
		wd, ok := weekdays[m[1]]
		if !ok {
			return nil, fmt.Errorf("invalid weekday in %q", raw)
		}
		h, mi, err := hhmm(m[2], m[3])
		if err != nil {
			return nil, err
		}
		return parseCron(fmt.Sprintf("%d %d * * %d", mi, h, int(wd)), loc)

	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s, loc)
	}

	if _, err := time.ParseDuration(s); err == nil {
		return parseEvery(s)
	}
	return nil, fmt.Errorf("invalid schedule %q (use 'every:5m', 'daily 07:00', 'weekly mon 07:00' or a cron expression)", raw)
}

func parseEvery(v string) (cron.Schedule, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return nil, fmt.Errorf("interval must be >= 1s, got %s", d)
	}
	return cron.Every(d), nil
}

func parseCron(expr string, loc *time.Location) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return sched, nil
}

func hhmm(hs, ms string) (int, int, error) {
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if h > 23 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %s:%s", hs, ms)
	}
	return h, m, nil
}
