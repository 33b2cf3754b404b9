package app

import (
	"strings"
	"time"

	"pubmatrix/internal/adapters/browser"
	"pubmatrix/internal/adapters/command"
	"pubmatrix/internal/config"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/health"
	"pubmatrix/internal/notifier"
	"pubmatrix/internal/planner"
	"pubmatrix/internal/task/engine"
	"pubmatrix/internal/task/scheduler"
	logx "pubmatrix/pkg/logx"
)

// The map* helpers run on configs that already passed config.Validate, so
// duration parse errors fall back to defaults.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone:   cfg.Scheduler.Timezone,
		JobTimeout: config.Duration(cfg.Scheduler.JobTimeout, 10*time.Minute),
	}
}

func dueIntervals(cfg *config.Config) (busy, idle time.Duration) {
	return config.Duration(cfg.Scheduler.BusyInterval, scheduler.DefaultBusyInterval),
		config.Duration(cfg.Scheduler.IdleInterval, scheduler.DefaultIdleInterval)
}

func mapExecutorConfig(cfg *config.Config) engine.Config {
	ec := cfg.Executor
	return engine.Config{
		MaxLanes:     ec.MaxLanes,
		JobTimeout:   config.Duration(ec.JobTimeout, 5*time.Minute),
		AbandonGrace: config.Duration(ec.AbandonGrace, 0),
		HistorySize:  ec.HistorySize,
	}
}

func mapHealthConfig(cfg *config.Config) health.Config {
	return health.Config{
		ProbeTimeout: config.Duration(cfg.Health.ProbeTimeout, 2*time.Minute),
		Pace:         config.Duration(cfg.Health.Pace, time.Second),
	}
}

func mapBrowserConfig(cfg *config.Config) browser.Config {
	bc := cfg.Browser
	return browser.Config{
		BaseURL:        bc.BaseURL,
		OpenAttempts:   bc.OpenAttempts,
		RetryDelay:     config.Duration(bc.RetryDelay, 5*time.Second),
		RequestTimeout: config.Duration(bc.RequestTimeout, 30*time.Second),
	}
}

// mapPlanner returns nil when planning is disabled.
func mapPlanner(cfg *config.Config) (*planner.Planner, error) {
	pc := cfg.Planner
	if !pc.Enabled {
		return nil, nil
	}
	pcfg := planner.Config{
		Windows:    pc.Windows,
		DaysWindow: pc.DaysWindow,
		DailyQuota: pc.DailyQuota,
		PeakQuota:  pc.PeakQuota,
	}
	for _, d := range pc.PeakDays {
		wd, ok := config.ParseWeekday(d)
		if !ok {
			return nil, errors.Newf("planner.peak_days: unknown weekday %q", d)
		}
		pcfg.PeakDays = append(pcfg.PeakDays, wd)
	}
	p, err := planner.New(pcfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, "planner")
	}
	return p, nil
}

func commandSpec(c config.CommandConfig) command.Spec {
	return command.Spec{Command: c.Command, Env: c.Env, Dir: c.Dir}
}

func publisherSpecs(cfg *config.Config) map[string]command.Spec {
	out := make(map[string]command.Spec, len(cfg.Adapters.Publishers))
	for platform, c := range cfg.Adapters.Publishers {
		out[platform] = commandSpec(c)
	}
	return out
}

func mapNotifier(cfg *config.Config, log logx.Logger) (notifier.Config, []notifier.Sink, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:    nc.Enabled,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
		Types:      nc.Types,
	}

	var sinks []notifier.Sink
	if url := strings.TrimSpace(nc.Webhook.URL); url != "" {
		sinks = append(sinks, notifier.NewWebhook(url, config.Duration(nc.Webhook.Timeout, 10*time.Second), log))
	}
	if strings.TrimSpace(nc.Telegram.Token) != "" || nc.Telegram.ChatID != 0 {
		tg, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:    nc.Telegram.Token,
			ChatID:   nc.Telegram.ChatID,
			ThreadID: nc.Telegram.ThreadID,
		})
		if err != nil {
			return notifier.Config{}, nil, errors.Wrap(err, "notifier.telegram")
		}
		sinks = append(sinks, tg)
	}
	if out.Enabled && len(sinks) == 0 {
		log.Warn("notifier enabled but no sink configured")
	}
	return out, sinks, nil
}

// validate runs the checks config.Validate cannot do without building
// components. It is the reload validator, so a bad edit is never applied.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPlanner(cfg); err != nil {
		return err
	}
	if s := strings.TrimSpace(cfg.Health.Schedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			return errors.Wrap(err, "health.schedule")
		}
	}
	if _, _, err := mapNotifier(cfg, logx.Nop()); err != nil {
		return err
	}
	return nil
}
