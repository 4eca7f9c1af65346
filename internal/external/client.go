// Package external provides the outbound HTTP layer used to redeliver
// notifications. All calls go through BaseClient, which adds circuit breaking
// and optional retries on 429/5xx on top of a plain *http.Client.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"notifyreplay/internal/types"
)

// RetryPolicy configures the retry behavior for the BaseClient.
// MaxRetries of zero means one attempt per call.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns a policy that never retries: a replayed
// notification is posted exactly once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 0,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BreakerSettings configures the per-destination circuit breakers.
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips a destination's breaker once exceeded. Zero
	// disables breaking: every request is sent.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BaseClient wraps an *http.Client with optional retries and one circuit
// breaker per destination host.
type BaseClient struct {
	client      *http.Client
	settings    BreakerSettings
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration) // for testability; defaults to time.Sleep

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient around httpClient.
func NewBaseClient(
	httpClient *http.Client,
	breaker BreakerSettings,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	if breaker.OpenTimeout <= 0 {
		breaker.OpenTimeout = 30 * time.Second
	}

	bc := &BaseClient{
		client:      httpClient,
		settings:    breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
		breakers:    make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}

	for _, opt := range opts {
		opt(bc)
	}

	return bc
}

// ResetBreakers forgets every destination's breaker state. The dispatcher
// calls it at the start of each run so failures never carry over.
func (c *BaseClient) ResetBreakers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.breakers)
}

// breakerFor returns the breaker of host, or nil when breaking is disabled.
func (c *BaseClient) breakerFor(host string) *gobreaker.CircuitBreaker[*http.Response] {
	threshold := c.settings.ConsecutiveFailures
	if threshold == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        c.settings.Name + ":" + host,
		MaxRequests: 1,
		Timeout:     c.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	c.breakers[host] = cb
	return cb
}

// execute runs fn through cb, or directly when cb is nil.
func execute(cb *gobreaker.CircuitBreaker[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	if cb == nil {
		return fn()
	}
	return cb.Execute(fn)
}

// errUpstreamStatus marks 429/5xx responses as breaker failures.
var errUpstreamStatus = errors.New("upstream returned retryable status")

// Do executes the request through the circuit breaker, retrying 429 and 5xx
// responses according to the retry policy.
//
// Any HTTP response, including a final 429/5xx, is returned to the caller
// with a nil error so the status can be audited. An error is returned only
// when no response exists, always as *types.AppError: transport failures
// carry ErrCodeUpstreamUnavailable and an open breaker, which means nothing
// was sent, carries ErrCodeUpstreamCircuitOpen. The caller closes the
// response body.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the request body so we can replay it on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support",
				err,
			)
		}
		req.Body.Close()
	}

	cb := c.breakerFor(req.URL.Host)
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := execute(cb, func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("%w: %d", errUpstreamStatus, r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if attempt > 0 {
				return nil, types.NewAppError(
					types.ErrCodeUpstreamUnavailable,
					"circuit breaker opened between retries",
					err,
				)
			}
			break
		}

		if resp != nil {
			if attempt == maxAttempts-1 {
				return resp, nil
			}
			wait := c.computeBackoff(attempt, resp)
			resp.Body.Close()
			c.sleepFn(wait)
			continue
		}

		if attempt < maxAttempts-1 {
			c.sleepFn(c.computeBackoff(attempt, nil))
		}
	}

	return nil, c.mapError(lastErr)
}

// computeBackoff determines the wait duration before the next retry attempt.
// It respects the Retry-After header if present, otherwise uses exponential
// backoff with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.retryPolicy.MaxWait)
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.retryPolicy.MinWait
				}
				return min(wait, c.retryPolicy.MaxWait)
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(c.retryPolicy.MaxWait))

	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// mapError translates failures without a response into AppErrors.
func (c *BaseClient) mapError(err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamCircuitOpen,
			"circuit breaker is open; request was not sent",
			err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		"request to destination failed",
		err,
	)
}
