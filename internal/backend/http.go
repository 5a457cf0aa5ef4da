package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultSendTimeout = 5 * time.Second

// HTTP delivers messages by POSTing them as JSON to a webhook URL.
// Any transport error or non-2xx response is a failed send.
type HTTP struct {
	name    string
	url     *url.URL
	client  *http.Client
	timeout time.Duration
}

// NewHTTP creates a webhook backend. A zero timeout uses the default.
func NewHTTP(name string, target *url.URL, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &HTTP{
		name:    name,
		url:     target,
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (h *HTTP) Name() string {
	return h.name
}

// URL returns the webhook URL.
func (h *HTTP) URL() *url.URL {
	return h.url
}

func (h *HTTP) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: encode message: %w", h.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", h.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID)

	res, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%s failed: unexpected status %d", h.name, res.StatusCode)
	}
	return nil
}
