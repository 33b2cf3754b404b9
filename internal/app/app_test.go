package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubmatrix/internal/config"
	"pubmatrix/internal/domain"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/orchestrator"
	logx "pubmatrix/pkg/logx"
)

const baseYAML = `
logging:
  level: error
storage:
  driver: memory
scheduler:
  timezone: UTC
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newApp(t *testing.T, body string) (*App, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pubmatrix.yaml")
	writeConfig(t, path, body)
	a, err := New(path)
	require.NoError(t, err)
	return a, path
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultDBPath, sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "Memory"}})
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "postgres"}})
	assert.Error(t, err)
}

func TestMapPlanner(t *testing.T) {
	p, err := mapPlanner(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = mapPlanner(&config.Config{Planner: config.PlannerConfig{
		Enabled:  true,
		Windows:  []string{"09:00-11:00", "14:00-16:00"},
		PeakDays: []string{"sat"},
	}})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Windows(), 2)
	assert.Equal(t, 3, p.Quota(time.Saturday))
	assert.Equal(t, 2, p.Quota(time.Monday))
}

func TestMapNotifierSinks(t *testing.T) {
	cfg := &config.Config{Notifier: config.NotifierConfig{
		Enabled:  true,
		Webhook:  config.WebhookConfig{URL: "http://127.0.0.1:9/hook"},
		Telegram: config.TelegramConfig{Token: "1:abc", ChatID: -100},
	}}
	ncfg, sinks, err := mapNotifier(cfg, logx.Nop())
	require.NoError(t, err)
	assert.True(t, ncfg.Enabled)
	require.Len(t, sinks, 2)
	assert.Equal(t, "webhook", sinks[0].Name())
	assert.Equal(t, "telegram", sinks[1].Name())

	cfg.Notifier.Telegram.ChatID = 0
	_, _, err = mapNotifier(cfg, logx.Nop())
	assert.Error(t, err)
}

func TestValidateRejectsBadHealthSchedule(t *testing.T) {
	cfg := &config.Config{Health: config.HealthConfig{Schedule: "every tuesday-ish"}}
	assert.Error(t, validate(cfg))

	cfg.Health.Schedule = "@every 6h"
	assert.NoError(t, validate(cfg))
}

func TestCommandModePublishesThroughPipeline(t *testing.T) {
	a, _ := newApp(t, baseYAML)
	ctx := context.Background()

	acc, err := a.repo.CreateAccount(ctx, domain.Account{Name: "shop", LaneID: "L1", PlatformType: "xhs", Status: domain.AccountActive})
	require.NoError(t, err)
	item, err := a.repo.CreateItem(ctx, domain.ContentItem{
		Title:          "spring drop",
		Status:         domain.StatusUnpublished,
		ScheduleStatus: domain.ScheduleNone,
		PublishStatus:  domain.PublishNone,
		AccountID:      domain.Ptr(acc.ID),
	})
	require.NoError(t, err)

	a.StartCommand(ctx)
	defer func() { require.NoError(t, a.Stop(context.Background(), StopCommandDone)) }()

	res, err := a.Orchestrator().PublishNow(ctx, []int64{item.ID})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.False(t, res.Items[0].Success)
	assert.Contains(t, res.Items[0].Message, "no publisher for platform xhs")

	got, err := a.repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Equal(t, domain.PublishFailed, got.PublishStatus)
}

func TestServeRegistersTriggersAndAppliesReload(t *testing.T) {
	a, path := newApp(t, baseYAML)
	events, unsub := a.bus.Subscribe(64)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { require.NoError(t, a.Stop(context.Background(), StopSignal)) }()

	assert.True(t, a.sched.Has(orchestrator.DueTrigger))
	assert.False(t, a.sched.Has(triggerKickoff))
	assert.False(t, a.sched.Has(triggerHealth))

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, baseYAML+`
daily:
  enabled: true
  at: "07:30"
health:
  schedule: "@every 6h"
`)

	require.Eventually(t, func() bool {
		return a.sched.Has(triggerKickoff) && a.sched.Has(triggerHealth)
	}, 5*time.Second, 20*time.Millisecond)

	var reloaded []string
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Type == eventbus.TypeConfigReloaded {
					reloaded, _ = ev.Data.([]string)
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"daily", "health"}, reloaded)
}
