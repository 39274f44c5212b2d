// Package retry wraps remote calls with exponential backoff for
// rate-limit-class failures.
//
// A call is retried only when Options.ShouldRetry accepts the error; the
// default accepts HTTP 429 responses. The delay before retry n (counting
// from zero) is InitialDelay * 2^n unless the error carries a numeric
// Retry-After header, in which case that many seconds are used instead.
//
//	body, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
//	    return fetch(ctx, url)
//	}, retry.Options{MaxRetries: 3})
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = time.Second
)

// Options configures Do. Zero values select the defaults.
type Options struct {
	// MaxRetries bounds the number of retries; the call runs at most
	// MaxRetries+1 times. Negative disables retries.
	MaxRetries int
	// InitialDelay is the backoff base.
	InitialDelay time.Duration
	// ShouldRetry classifies errors. Defaults to IsRateLimited.
	ShouldRetry func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitialDelay
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = IsRateLimited
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// Do invokes fn, retrying retryable failures with backoff. When retries are
// exhausted the last error is returned unchanged.
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= opts.MaxRetries || !opts.ShouldRetry(err) {
			return v, err
		}
		delay := opts.InitialDelay << attempt
		if d, ok := RetryAfter(err); ok {
			delay = d
		}
		if serr := opts.Sleep(ctx, delay); serr != nil {
			return v, serr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPError is a non-2xx response from a remote service.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// NewHTTPError builds an HTTPError from a response. The body is truncated
// so error strings stay readable.
func NewHTTPError(resp *http.Response, body []byte) *HTTPError {
	const maxBody = 512
	b := strings.TrimSpace(string(body))
	if len(b) > maxBody {
		b = b[:maxBody] + "..."
	}
	return &HTTPError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: b}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// RetryAfter returns the delay requested by a numeric Retry-After header on
// err.
func RetryAfter(err error) (time.Duration, bool) {
	var he *HTTPError
	if !errors.As(err, &he) || he.Header == nil {
		return 0, false
	}
	raw := strings.TrimSpace(he.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	secs, perr := strconv.ParseFloat(raw, 64)
	if perr != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * 1000 * float64(time.Millisecond)), true
}

// IsTransient reports whether err is an HTTP 429 or a 5xx reply.
func IsTransient(err error) bool {
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
