// Package provider holds what the outbound HTTP clients share: the
// message shape handed to senders and a JSON client that classifies
// failures for the retry policy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// ErrUnconfirmed is returned when a provider answered 2xx but the body
// could not be read. The call took effect; repeating it would duplicate
// the side effect.
var ErrUnconfirmed = errors.New("provider accepted the request without a usable response")

// Outbound is one message to deliver through a Sender.
type Outbound struct {
	Recipient   string
	Template    string
	Language    string
	Subject     string
	Params      map[string]string
	MessageType string
	// Correlation is echoed back by the provider in status callbacks.
	Correlation string
}

// Sender delivers an outbound message and returns the provider's id for it.
type Sender interface {
	Send(ctx context.Context, msg Outbound) (string, error)
}

// Client is a small JSON-over-HTTP client. Failures come back classified:
// transport errors and 5xx/408/429 are transient, other 4xx permanent.
type Client struct {
	name    string
	baseURL string
	auth    func(*http.Request)
	http    *http.Client
}

// NewClient creates a client for the named provider. auth decorates each
// request with credentials and may be nil.
func NewClient(name, baseURL string, auth func(*http.Request), hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    auth,
		http:    hc,
	}
}

// Bearer returns an auth decorator setting a bearer token.
func Bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Provider, e.Status, e.Body)
}

// NotFound reports whether err is a 404 from a provider.
func NotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Do sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%s: encode request: %w", c.name, err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: build request: %w", c.name, err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("%s: %s %s: %w", c.name, method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.FromStatus(resp.StatusCode, &StatusError{
			Provider: c.name,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(snippet)),
		})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		err = fmt.Errorf("%s: decode response: %w", c.name, err)
		if method == http.MethodGet || method == http.MethodHead {
			return retry.Transient(err)
		}
		return retry.Permanent(fmt.Errorf("%w: %w", ErrUnconfirmed, err))
	}
	return nil
}
