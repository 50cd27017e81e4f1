package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.delays {
		sum += d
	}
	return sum
}

func TestRetryPolicySucceedsOnThirdAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := DefaultPolicy()
	policy.Sleep = sleeper.Sleep

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("TypeError: Failed to fetch")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays)
	assert.GreaterOrEqual(t, sleeper.total(), 300*time.Millisecond)
}

func TestRetryPolicyRealBackoffTakesAtLeast300ms(t *testing.T) {
	policy := DefaultPolicy()

	calls := 0
	start := time.Now()
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("Failed to fetch")
		}
		return nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestRetryPolicyPropagatesFinalFailure(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := DefaultPolicy()
	policy.Sleep = sleeper.Sleep

	calls := 0
	var last error
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		last = errors.New("NetworkError when attempting to fetch resource")
		return last
	})

	assert.Equal(t, 3, calls)
	assert.Same(t, last, err)
	assert.Len(t, sleeper.delays, 2)
}

func TestRetryPolicyDoesNotRetryOtherErrors(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := DefaultPolicy()
	policy.Sleep = sleeper.Sleep

	permanent := errors.New("permission denied")
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestRetryPolicyStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := DefaultPolicy()
	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	policy := DefaultPolicy()

	assert.True(t, policy.IsTransient(errors.New("read: connection reset by peer")))
	assert.True(t, policy.IsTransient(errors.New("body stream already read")))
	assert.False(t, policy.IsTransient(errors.New("failed to fetch")))
	assert.False(t, policy.IsTransient(nil))
}

type flakyRoundTripper struct {
	failures int
	calls    int
	bodies   []string
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		payload, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(payload))
	}
	if f.calls <= f.failures {
		return nil, errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func TestRetryTransportRewindsRequestBody(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := DefaultPolicy()
	policy.Sleep = sleeper.Sleep

	base := &flakyRoundTripper{failures: 2}
	client := &http.Client{Transport: NewRetryTransport(base, policy)}

	req, err := http.NewRequest(http.MethodPost, "http://campus.test/api/v1/messages", strings.NewReader(`{"content":"hi"}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, base.calls)
	assert.Equal(t, []string{`{"content":"hi"}`, `{"content":"hi"}`, `{"content":"hi"}`}, base.bodies)
}

func TestRetryTransportReturnsHTTPErrorsWithoutRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewRetryTransport(nil, DefaultPolicy())}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1, calls)
}
