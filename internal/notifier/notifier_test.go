package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	logx "pubmatrix/pkg/logx"
)

type memSink struct {
	mu   sync.Mutex
	got  []Message
	fail error
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, msg)
	return m.fail
}

func (m *memSink) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.got...)
}

func TestFilter(t *testing.T) {
	t.Parallel()
	f := filter{"publish.*", "health.checked"}
	assert.True(t, f.match("publish.item"))
	assert.True(t, f.match("publish.tick"))
	assert.True(t, f.match("health.checked"))
	assert.False(t, f.match("health.other"))
	assert.False(t, f.match("reconcile.stranded"))
}

func TestFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   eventbus.Event
		want string
	}{
		{
			ev:   eventbus.Event{Type: eventbus.TypePublishTick, Data: eventbus.BatchEvent{Succeeded: 2, Failed: 1, Took: 1500 * time.Millisecond}},
			want: "scheduled publish: 2 ok, 1 failed (2s)",
		},
		{
			ev:   eventbus.Event{Type: eventbus.TypePublishPlanned, Data: eventbus.ItemEvent{ItemID: 7, Message: "rejected"}},
			want: "planned publish: item 7 failed: rejected",
		},
		{
			ev:   eventbus.Event{Type: eventbus.TypeHealthChecked, Data: eventbus.HealthEvent{Healthy: 3, Unhealthy: 1}},
			want: "account check: 3 healthy, 1 unhealthy, 0 inconclusive",
		},
		{
			ev:   eventbus.Event{Type: eventbus.TypeDailyKickoff, Data: eventbus.KickoffEvent{Added: 4, Planned: 2, IngestError: "feed down"}},
			want: "daily kickoff: 4 added, 2 planned; ingest failed: feed down",
		},
		{ev: eventbus.Event{Type: "custom.thing"}, want: "custom.thing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.ev))
	}
}

func TestServiceForwardsSelectedEvents(t *testing.T) {
	bus := eventbus.New()
	sink := &memSink{}
	s := New(Config{Enabled: true, RatePerSec: 100}, []Sink{sink}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TypePublishItem, Data: eventbus.ItemEvent{ItemID: 1, Success: true}})
	bus.Publish(eventbus.Event{Type: eventbus.TypePublishBatch, Data: eventbus.BatchEvent{Succeeded: 1}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeStranded, Data: eventbus.StrandedEvent{ItemID: 9, State: "processing/none"}})

	require.Eventually(t, func() bool { return len(sink.messages()) == 2 }, time.Second, 5*time.Millisecond)
	got := sink.messages()
	assert.Equal(t, eventbus.TypePublishBatch, got[0].Type)
	assert.Equal(t, eventbus.TypeStranded, got[1].Type)
	assert.Contains(t, got[1].Text, "item 9")

	snap := s.Snapshot()
	assert.EqualValues(t, 2, snap.Sent)
	assert.Equal(t, []string{"mem"}, snap.Sinks)
}

func TestServiceSurvivesSinkErrorsAndDisable(t *testing.T) {
	bus := eventbus.New()
	sink := &memSink{fail: errors.New("boom")}
	s := New(Config{Enabled: true, RatePerSec: 100, Types: []string{"*"}}, []Sink{sink}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: "a"})
	bus.Publish(eventbus.Event{Type: "b"})
	require.Eventually(t, func() bool { return s.Snapshot().Failed == 2 }, time.Second, 5*time.Millisecond)

	s.Apply(Config{Enabled: false}, []Sink{sink})
	bus.Publish(eventbus.Event{Type: "c"})
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, sink.messages(), 2)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var body Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second, logx.Nop())
	w.client.RetryWaitMin = time.Millisecond
	w.client.RetryWaitMax = time.Millisecond

	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	err := w.Send(context.Background(), Message{Type: eventbus.TypePublishItem, Time: at, Text: "published: item 3 ok"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, eventbus.TypePublishItem, body.Type)
	assert.True(t, at.Equal(body.Time))
}

func TestWebhookClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second, logx.Nop()).Send(context.Background(), Message{Type: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTelegramSendsToChatAndTopic(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTEST:token/sendMessage", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"},"text":"x"}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "TEST:token", ChatID: 42, ThreadID: 5, APIURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, tg.Send(context.Background(), Message{Text: "account check: 1 healthy"}))

	require.NotNil(t, payload)
	assert.Equal(t, "42", fmt.Sprint(payload["chat_id"]))
	assert.Equal(t, "5", fmt.Sprint(payload["message_thread_id"]))
	assert.Equal(t, "account check: 1 healthy", payload["text"])
}

func TestTelegramConfigErrors(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "x"})
	assert.Error(t, err)
}
