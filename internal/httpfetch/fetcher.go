// Package httpfetch is the shared outbound HTTP client used by every
// provider. It centralizes what the donor repo's individual clients
// (internal/cmc, internal/binance, internal/polymarket) each hand-rolled
// separately: JSON decode, transport/5xx/401/429 classification, and a
// small jittered retry for transient failures.
package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Sentinel error kinds, matching the taxonomy in the spec's error-handling
// design: callers branch on these with errors.Is rather than inspecting
// strings.
var (
	ErrRateLimited     = errors.New("rate-limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUpstreamFailure = errors.New("upstream-failure")
)

// DefaultTimeout is the per-HTTP-call deadline named in the concurrency
// model (spec §5): "per-HTTP timeouts default to 30 s".
const DefaultTimeout = 30 * time.Second

const maxRetries = 2

// Fetcher issues outbound GETs and JSON-decodes responses. It is
// stateless beyond its *http.Client, so one instance is safely shared and
// reentrant across goroutines, as the spec requires of the HTTP Fetcher.
type Fetcher struct {
	client *http.Client
}

// New builds a Fetcher with the default per-call timeout.
func New() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: DefaultTimeout}}
}

// NewWithClient lets callers supply a preconfigured client (tests inject a
// fake transport this way).
func NewWithClient(c *http.Client) *Fetcher {
	return &Fetcher{client: c}
}

// GetJSON issues a GET against url and decodes the JSON body into out.
// Transient errors (timeouts, connection errors, 5xx) are retried up to
// maxRetries times with jittered backoff before being surfaced as
// ErrUpstreamFailure; 429 is surfaced immediately as ErrRateLimited so the
// caller can back off at the cycle level instead of retrying here; 401 is
// surfaced as ErrUnauthorized.
func (f *Fetcher) GetJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
			log.Debug().Str("url", url).Int("attempt", attempt).Err(err).Msg("transient fetch error")
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			return ErrRateLimited
		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrUpstreamFailure, resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			return fmt.Errorf("%w: status %d: %s", ErrUpstreamFailure, resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
		return nil
	}
	return lastErr
}
