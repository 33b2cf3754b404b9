package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubmatrix/internal/errors"
	"pubmatrix/internal/ports"
	logx "pubmatrix/pkg/logx"
)

func testClient(url string) *Client {
	return NewClient(Config{BaseURL: url, OpenAttempts: 3, RetryDelay: time.Millisecond, RequestTimeout: time.Second}, logx.Nop())
}

func TestOpenDecodesSession(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/browser/open", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotID = body["id"]
		_, _ = w.Write([]byte(`{"success":true,"data":{"ws":"ws://127.0.0.1:9222/x","http":"127.0.0.1:9222"}}`))
	}))
	defer srv.Close()

	s, err := testClient(srv.URL).Open(context.Background(), "profile-a")
	require.NoError(t, err)
	assert.Equal(t, "profile-a", gotID)
	assert.Equal(t, ports.Session{LaneID: "profile-a", WS: "ws://127.0.0.1:9222/x", HTTP: "127.0.0.1:9222"}, s)
}

func TestOpenRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"ws":"ws://x"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Open(context.Background(), "p")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenExhaustionIsConnectivity(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Open(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrConnectivity))
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenUnreachableIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Open(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrConnectivity))
}

func TestOpenRejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success":false,"msg":"profile locked"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Open(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile locked")
	assert.False(t, errors.Is(err, ports.ErrConnectivity))
	assert.EqualValues(t, 1, calls.Load())
}

func TestClosePostsLane(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).Close(context.Background(), "p"))
	assert.Equal(t, "/browser/close", path)
}

func TestNewWithoutBaseURLIsNop(t *testing.T) {
	b := New(Config{}, logx.Nop())
	s, err := b.Open(context.Background(), "lane")
	require.NoError(t, err)
	assert.Equal(t, "lane", s.LaneID)
	assert.NoError(t, b.Close(context.Background(), "lane"))
}
