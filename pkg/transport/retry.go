// Package transport wraps HTTP calls with bounded retry for transient
// network failures.
package transport

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
)

// DefaultPatterns are matched as substrings of the error message.
var DefaultPatterns = []string{
	"body stream already read",
	"Failed to fetch",
	"NetworkError",
	"connection reset by peer",
	"connection refused",
	"broken pipe",
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Patterns    []string
	Sleep       SleepFunc
}

func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Patterns:    DefaultPatterns,
	}
}

// IsTransient reports whether err matches one of the policy patterns.
func (p RetryPolicy) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	for _, pattern := range p.patterns() {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

// Delay returns the wait after failed attempt n, counting from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << uint(attempt)
}

// Do calls fn until it succeeds, fails with a non-transient error, or the
// attempts run out. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !p.IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if waitErr := sleep(ctx, p.Delay(attempt)); waitErr != nil {
			return err
		}
	}
	return err
}

func (p RetryPolicy) patterns() []string {
	if p.Patterns == nil {
		return DefaultPatterns
	}
	return p.Patterns
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryTransport is an http.RoundTripper that retries transport errors
// matched by Policy. HTTP error statuses are returned to the caller as-is.
type RetryTransport struct {
	Base   http.RoundTripper
	Policy RetryPolicy
}

func NewRetryTransport(base http.RoundTripper, policy RetryPolicy) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{Base: base, Policy: policy}
}

// NewClient returns an http.Client using the default retry policy.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewRetryTransport(nil, DefaultPolicy()),
	}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// A body that cannot be rewound gets exactly one attempt.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return base.RoundTrip(req)
	}

	var resp *http.Response
	attempt := 0
	err := t.Policy.Do(req.Context(), func(ctx context.Context) error {
		outgoing := req
		if attempt > 0 {
			outgoing = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				outgoing.Body = body
			}
		}
		attempt++

		var err error
		resp, err = base.RoundTrip(outgoing)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
