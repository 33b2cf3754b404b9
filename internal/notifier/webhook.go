package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

// Webhook POSTs each message as JSON. 5xx replies and transport errors are
// retried a couple of times with the client's exponential backoff.
type Webhook struct {
	url    string
	client *retryablehttp.Client
}

func NewWebhook(url string, timeout time.Duration, log logx.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = logx.Leveled{L: log.With(logx.String("sink", "webhook"))}
	return &Webhook{url: strings.TrimSpace(url), client: c}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return errors.Newf("webhook replied %s", resp.Status)
	}
	return nil
}
