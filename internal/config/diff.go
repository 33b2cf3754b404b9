package config

import (
	"reflect"
	"strings"

	logx "pubmatrix/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets (tokens, webhook
// URLs) are reported only as "set"/"unset".
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 10)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		// storage is bound at startup; flag it so operators know a restart is needed
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver), logx.Bool("storage.restart_required", true))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.busy_interval", newCfg.Scheduler.BusyInterval),
			logx.String("scheduler.idle_interval", newCfg.Scheduler.IdleInterval),
		)
	}
	if !reflect.DeepEqual(oldCfg.Executor, newCfg.Executor) {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Int("executor.max_lanes", newCfg.Executor.MaxLanes),
			logx.String("executor.job_timeout", newCfg.Executor.JobTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Daily, newCfg.Daily) {
		changed = append(changed, "daily")
		attrs = append(attrs, logx.Bool("daily.enabled", newCfg.Daily.Enabled), logx.String("daily.at", newCfg.Daily.At))
	}
	if !reflect.DeepEqual(oldCfg.Planner, newCfg.Planner) {
		changed = append(changed, "planner")
		attrs = append(attrs,
			logx.Bool("planner.enabled", newCfg.Planner.Enabled),
			logx.Strings("planner.windows", newCfg.Planner.Windows),
			logx.Int("planner.days_window", newCfg.Planner.DaysWindow),
		)
	}
	if !reflect.DeepEqual(oldCfg.Health, newCfg.Health) {
		changed = append(changed, "health")
		attrs = append(attrs, logx.String("health.schedule", newCfg.Health.Schedule))
	}
	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
		attrs = append(attrs, logx.String("browser.base_url", newCfg.Browser.BaseURL), logx.Bool("browser.restart_required", true))
	}
	if !reflect.DeepEqual(oldCfg.Adapters, newCfg.Adapters) {
		changed = append(changed, "adapters")
		attrs = append(attrs, logx.Int("adapters.publishers", len(newCfg.Adapters.Publishers)), logx.Bool("adapters.restart_required", true))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.webhook_set", strings.TrimSpace(newCfg.Notifier.Webhook.URL) != ""),
			logx.Bool("notifier.telegram_set", strings.TrimSpace(newCfg.Notifier.Telegram.Token) != ""),
		)
	}
	return changed, attrs
}
