package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

const maxPlannerWindows = 3

// Validate checks the values a reload must never commit. It is also used
// on startup so both paths reject the same files.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "memory":
	default:
		add("storage.driver: unsupported driver %q", cfg.Storage.Driver)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	durations := map[string]string{
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"scheduler.busy_interval":  cfg.Scheduler.BusyInterval,
		"scheduler.idle_interval":  cfg.Scheduler.IdleInterval,
		"scheduler.job_timeout":    cfg.Scheduler.JobTimeout,
		"executor.job_timeout":     cfg.Executor.JobTimeout,
		"executor.abandon_grace":   cfg.Executor.AbandonGrace,
		"health.probe_timeout":     cfg.Health.ProbeTimeout,
		"health.pace":              cfg.Health.Pace,
		"browser.retry_delay":      cfg.Browser.RetryDelay,
		"browser.request_timeout":  cfg.Browser.RequestTimeout,
		"notifier.webhook.timeout": cfg.Notifier.Webhook.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			add("%v", err)
		}
	}

	if cfg.Executor.MaxLanes < 0 || cfg.Executor.MaxLanes > 64 {
		add("executor.max_lanes: must be between 0 and 64")
	}

	if cfg.Daily.Enabled {
		if err := checkClock(cfg.Daily.At); err != nil {
			add("daily.at: %v", err)
		}
	}

	if len(cfg.Planner.Windows) > maxPlannerWindows {
		add("planner.windows: at most %d windows, got %d", maxPlannerWindows, len(cfg.Planner.Windows))
	}
	for i, w := range cfg.Planner.Windows {
		start, end, ok := strings.Cut(strings.TrimSpace(w), "-")
		if !ok {
			add("planner.windows[%d]: want HH:MM-HH:MM, got %q", i, w)
			continue
		}
		if err := checkClock(start); err != nil {
			add("planner.windows[%d]: start: %v", i, err)
		}
		if err := checkClock(end); err != nil {
			add("planner.windows[%d]: end: %v", i, err)
		}
	}
	if cfg.Planner.DaysWindow < 0 || cfg.Planner.DailyQuota < 0 || cfg.Planner.PeakQuota < 0 {
		add("planner: days_window and quotas must be >= 0")
	}
	for _, d := range cfg.Planner.PeakDays {
		if _, ok := ParseWeekday(d); !ok {
			add("planner.peak_days: unknown weekday %q", d)
		}
	}

	if cfg.Browser.OpenAttempts < 0 {
		add("browser.open_attempts: must be >= 0")
	}
	for platform, c := range cfg.Adapters.Publishers {
		if len(c.Command) == 0 {
			add("adapters.publishers.%s.command: empty", platform)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid config: %s", strings.Join(problems, "; "))
}

// ParseWeekday accepts English weekday names and their three-letter forms.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

func checkClock(s string) error {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return errors.Newf("want HH:MM, got %q", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return errors.Newf("want HH:MM, got %q", s)
	}
	return nil
}
