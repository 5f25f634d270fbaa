// Package relay forwards provider API calls upstream, taps the responses
// for token usage, and queues the results for the ledger.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNotConfigured means no provider credential is available; the relay
// refuses to forward.
var ErrNotConfigured = errors.New("upstream api key not configured")

const defaultAnthropicVersion = "2023-06-01"

// Headers the caller must never control: the credential is injected from
// process configuration only.
var strippedHeaders = []string{"X-Api-Key", "Authorization"}

// Upstream sends requests to the provider API. Transport-level failures
// feed a circuit breaker so a dead upstream fails fast instead of tying up
// every caller for a full timeout.
type Upstream struct {
	client  *http.Client
	baseURL string
	apiKey  string
	breaker *gobreaker.CircuitBreaker
}

func NewUpstream(baseURL, apiKey string) *Upstream {
	settings := gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Upstream{
		// No overall client timeout: streamed responses legitimately run
		// for minutes. Cancellation comes from the request context.
		client:  &http.Client{},
		baseURL: baseURL,
		apiKey:  apiKey,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Forward relays body to path on the provider, carrying over the caller's
// headers minus credentials. The response body is returned unread so the
// caller can stream it. Non-2xx provider statuses are not errors here;
// they pass through to the caller verbatim.
func (u *Upstream) Forward(r *http.Request, path string, body []byte) (*http.Response, error) {
	if u.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, u.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	req.Header = r.Header.Clone()
	for _, h := range strippedHeaders {
		req.Header.Del(h)
	}
	req.Header.Del("Accept-Encoding") // let the transport negotiate and decompress
	req.Header.Set("x-api-key", u.apiKey)
	if req.Header.Get("anthropic-version") == "" {
		req.Header.Set("anthropic-version", defaultAnthropicVersion)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	result, err := u.breaker.Execute(func() (interface{}, error) {
		return u.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}
