package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, cfg Config) (*Service, Logger, *bytes.Buffer) {
	t.Helper()
	s, log := New(Config{Level: "error"})
	buf := &bytes.Buffer{}
	s.out = buf
	s.Apply(cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s, log, buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(ln), &m), ln)
		out = append(out, m)
	}
	return out
}

func TestLoggerWritesFieldsAndCaller(t *testing.T) {
	_, log, buf := newBuffered(t, Config{Level: "debug", Console: true, JSON: true})

	log.With(String("comp", "executor")).Info("lane started", Int64("item", 7), Err(nil))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "lane started", got[0]["message"])
	assert.Equal(t, "executor", got[0]["comp"])
	assert.EqualValues(t, 7, got[0]["item"])
	assert.NotContains(t, got[0], "err")
	assert.True(t, strings.HasPrefix(got[0]["caller"].(string), "logx_test.go:"))
}

func TestApplyChangesLevelForDerivedLoggers(t *testing.T) {
	s, log, buf := newBuffered(t, Config{Level: "warn", Console: true, JSON: true})
	child := log.With(String("comp", "scheduler"))

	child.Info("hidden")
	assert.False(t, child.Enabled(LevelDebug))

	s.Apply(Config{Level: "debug", Console: true, JSON: true})
	child.Debug("shown")
	assert.True(t, child.Enabled(LevelDebug))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pubmatrix.log")
	s, log, _ := newBuffered(t, Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})

	log.Info("to file")
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"to file"`)
}

func TestNopAndLevels(t *testing.T) {
	assert.True(t, Nop().IsZero())
	assert.False(t, Nop().Enabled(LevelDebug))
	Nop().Error("discarded")

	assert.True(t, ValidLevel(""))
	assert.True(t, ValidLevel("WARNING"))
	assert.True(t, ValidLevel("trace"))
	assert.False(t, ValidLevel("loud"))
}
