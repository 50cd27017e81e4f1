package chatclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestDispatcherDropsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(zap.NewNop(), 2)
	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		fail := i%2 == 0
		d.Fire(context.Background(), "mark read", func(context.Context) error {
			ran.Add(1)
			if fail {
				return errors.New("NetworkError")
			}
			return nil
		})
	}
	d.Wait()

	assert.Equal(t, int64(5), ran.Load())
	assert.Equal(t, int64(3), d.Dropped())
}

func TestDispatcherSkipsWorkAfterCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(nil, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	d.Fire(context.Background(), "slow", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	d.Fire(ctx, "queued", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()

	time.Sleep(10 * time.Millisecond)
	close(release)
	d.Wait()

	assert.False(t, ran.Load())
	assert.Equal(t, int64(1), d.Dropped())
}

func TestAttemptReportsOutcome(t *testing.T) {
	logger := zap.NewNop()
	assert.True(t, Attempt(context.Background(), logger, "typing", func(context.Context) error { return nil }))
	assert.False(t, Attempt(context.Background(), logger, "typing", func(context.Context) error {
		return errors.New("broken pipe")
	}))
}
