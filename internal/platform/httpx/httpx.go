package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// IsRetryableError covers deadlines, network timeouts and retryable status
// codes carried by an HTTPStatusCoder.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

// Backoff is a capped exponential backoff with +/-20% jitter.
type Backoff struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
	Retryable  func(error) bool
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// the retry budget is spent. fn may return the response it got so that a
// Retry-After header is honored. onRetry, when set, sees each retry before
// the wait.
func (b Backoff) Retry(ctx context.Context, fn func() (*http.Response, error), onRetry func(attempt int, wait time.Duration, err error)) error {
	retryable := b.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}
	delay := b.Base
	for attempt := 0; ; attempt++ {
		resp, err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= b.MaxRetries || ctx.Err() != nil {
			return err
		}
		wait := jitter(retryAfter(resp, delay, b.Cap))
		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		delay *= 2
	}
}

func retryAfter(resp *http.Response, fallback, max time.Duration) time.Duration {
	wait := fallback
	if resp != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if max > 0 && wait > max {
		wait = max
	}
	return wait
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(float64(base) * (0.8 + 0.4*rand.Float64()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
