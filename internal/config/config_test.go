package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/pubmatrix.db
scheduler:
  timezone: UTC
  busy_interval: 1m
  idle_interval: 30m
executor:
  max_lanes: 3
  job_timeout: 5m
daily:
  enabled: true
  at: "09:00"
planner:
  enabled: true
  windows: ["09:00-11:00", "14:00-16:00"]
  days_window: 4
  peak_days: [monday, sun]
adapters:
  publishers:
    xhs:
      command: ["./bin/xhs-publish"]
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Executor.MaxLanes)
	assert.Equal(t, "09:00", cfg.Daily.At)
	assert.Equal(t, []string{"09:00-11:00", "14:00-16:00"}, cfg.Planner.Windows)
	assert.Equal(t, []string{"./bin/xhs-publish"}, cfg.Adapters.Publishers["xhs"].Command)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode("cfg.yaml", []byte("executor:\n  lanes: 3\n"))
	require.Error(t, err)

	_, err = Decode("cfg.json", []byte(`{"daily":{"enabled":true,"at":"09:00"}}{}`))
	require.Error(t, err)
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg, err := Decode("cfg.yml", []byte("\n"))
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mut  func(c *Config)
		ok   bool
	}{
		{"zero value", func(c *Config) {}, true},
		{"bad daily time", func(c *Config) { c.Daily = DailyConfig{Enabled: true, At: "25:00"} }, false},
		{"disabled daily ignores time", func(c *Config) { c.Daily = DailyConfig{At: "nope"} }, true},
		{"too many windows", func(c *Config) {
			c.Planner.Windows = []string{"01:00-02:00", "03:00-04:00", "05:00-06:00", "07:00-08:00"}
		}, false},
		{"window without dash", func(c *Config) { c.Planner.Windows = []string{"09:00"} }, false},
		{"too many lanes", func(c *Config) { c.Executor.MaxLanes = 65 }, false},
		{"bad duration", func(c *Config) { c.Executor.JobTimeout = "five minutes" }, false},
		{"negative duration", func(c *Config) { c.Health.Pace = "-1s" }, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, false},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"bad weekday", func(c *Config) { c.Planner.PeakDays = []string{"funday"} }, false},
		{"publisher without command", func(c *Config) {
			c.Adapters.Publishers = map[string]CommandConfig{"xhs": {}}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var c Config
			tc.mut(&c)
			err := Validate(&c)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseWeekday(t *testing.T) {
	d, ok := ParseWeekday("Mon")
	require.True(t, ok)
	assert.Equal(t, time.Monday, d)

	d, ok = ParseWeekday("sunday")
	require.True(t, ok)
	assert.Equal(t, time.Sunday, d)

	_, ok = ParseWeekday("someday")
	assert.False(t, ok)
}

func TestDurationDefaults(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Duration("", 5*time.Minute))
	assert.Equal(t, 5*time.Minute, Duration("0s", 5*time.Minute))
	assert.Equal(t, 90*time.Second, Duration("90s", 5*time.Minute))
	assert.Equal(t, 5*time.Minute, Duration("garbage", 5*time.Minute))
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{Daily: DailyConfig{Enabled: true, At: "09:00"}}
	newCfg := &Config{Daily: DailyConfig{Enabled: true, At: "10:30"}, Notifier: NotifierConfig{Telegram: TelegramConfig{Token: "secret"}}}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"daily", "notifier"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pubmatrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daily:\n  enabled: true\n  at: \"09:00\"\n"), 0o644))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)

	// invalid reloads never reach subscribers
	require.NoError(t, os.WriteFile(path, []byte("daily:\n  enabled: true\n  at: \"29:00\"\n"), 0o644))
	time.Sleep(2 * reloadDebounce)
	require.NoError(t, os.WriteFile(path, []byte("daily:\n  enabled: true\n  at: \"10:15\"\n"), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "10:15", cfg.Daily.At)
		assert.Equal(t, "10:15", m.Get().Daily.At)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not published")
	}

	cancel()
	<-done
}
