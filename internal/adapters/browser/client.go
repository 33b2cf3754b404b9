// Package browser talks to the browser-profile backend that owns the
// automation sessions. One lane id is one browser profile.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"pubmatrix/internal/errors"
	"pubmatrix/internal/ports"
	logx "pubmatrix/pkg/logx"
)

type Config struct {
	BaseURL        string
	OpenAttempts   int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.OpenAttempts <= 0 {
		c.OpenAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  logx.Logger
}

var _ ports.SessionBackend = (*Client)(nil)

// New returns a backend for cfg, or a no-op backend when no base URL is
// configured.
func New(cfg Config, log logx.Logger) ports.SessionBackend {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return ports.NopSessions{}
	}
	return NewClient(cfg, log)
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	log = log.With(logx.String("comp", "browser"))

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.OpenAttempts - 1
	rc.RetryWaitMin = cfg.RetryDelay
	rc.RetryWaitMax = cfg.RetryDelay
	delay := cfg.RetryDelay
	rc.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return delay }
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	rc.Logger = logx.Leveled{L: log}

	return &Client{cfg: cfg, http: rc, log: log}
}

type openReply struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    struct {
		WS   string `json:"ws"`
		HTTP string `json:"http"`
	} `json:"data"`
}

// Open starts (or attaches to) the browser profile behind laneID.
func (c *Client) Open(ctx context.Context, laneID string) (ports.Session, error) {
	var reply openReply
	if err := c.post(ctx, "/browser/open", laneID, &reply); err != nil {
		return ports.Session{}, err
	}
	if !reply.Success {
		return ports.Session{}, errors.Newf("open browser %s: %s", laneID, reply.Msg)
	}
	c.log.Debug("browser.opened", logx.String("lane", laneID), logx.String("ws", reply.Data.WS))
	return ports.Session{LaneID: laneID, WS: reply.Data.WS, HTTP: reply.Data.HTTP}, nil
}

// Close shuts the profile down. It is the forced teardown for abandoned jobs.
func (c *Client) Close(ctx context.Context, laneID string) error {
	var reply openReply
	if err := c.post(ctx, "/browser/close", laneID, &reply); err != nil {
		return err
	}
	if !reply.Success {
		return errors.Newf("close browser %s: %s", laneID, reply.Msg)
	}
	c.log.Debug("browser.closed", logx.String("lane", laneID))
	return nil
}

func (c *Client) post(ctx context.Context, path, laneID string, out any) error {
	body, err := json.Marshal(map[string]string{"id": laneID})
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "browser %s %s", path, laneID)
		}
		err = errors.Wrapf(err, "browser %s %s after %d attempts", path, laneID, c.cfg.OpenAttempts)
		return errors.Mark(err, ports.ErrConnectivity)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "read response"), ports.ErrConnectivity)
	}
	if resp.StatusCode/100 != 2 {
		return errors.Newf("browser %s %s: http %d: %s", path, laneID, resp.StatusCode, snippet(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s reply", path)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return fmt.Sprintf("%q", s)
}
