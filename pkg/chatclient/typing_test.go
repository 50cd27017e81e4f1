package chatclient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sentStatuses struct {
	mu   sync.Mutex
	sent []bool
}

func (s *sentStatuses) record(typing bool) {
	s.mu.Lock()
	s.sent = append(s.sent, typing)
	s.mu.Unlock()
}

func (s *sentStatuses) all() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.sent...)
}

func TestTypingBroadcasterAnnouncesOnceThenStopsAfterIdle(t *testing.T) {
	clock := newManualClock()
	sent := &sentStatuses{}
	b := NewTypingBroadcaster(clock, TypingIdle, sent.record)

	b.Keystroke()
	b.Keystroke()
	b.Keystroke()
	assert.Equal(t, []bool{true}, sent.all())
	assert.True(t, b.Typing())

	clock.Advance(TypingIdle)
	assert.Equal(t, []bool{true, false}, sent.all())
	assert.False(t, b.Typing())
}

func TestTypingBroadcasterKeystrokeResetsIdleTimer(t *testing.T) {
	clock := newManualClock()
	sent := &sentStatuses{}
	b := NewTypingBroadcaster(clock, TypingIdle, sent.record)

	b.Keystroke()
	clock.Advance(900 * time.Millisecond)
	b.Keystroke()

	// The original deadline passes without a stop.
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []bool{true}, sent.all())

	clock.Advance(899 * time.Millisecond)
	assert.Equal(t, []bool{true}, sent.all())

	clock.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, false}, sent.all())
}

func TestTypingBroadcasterStop(t *testing.T) {
	clock := newManualClock()
	sent := &sentStatuses{}
	b := NewTypingBroadcaster(clock, TypingIdle, sent.record)

	b.Stop()
	assert.Empty(t, sent.all(), "stopping while idle sends nothing")

	b.Keystroke()
	b.Stop()
	assert.Equal(t, []bool{true, false}, sent.all())

	clock.Advance(5 * TypingIdle)
	assert.Equal(t, []bool{true, false}, sent.all(), "cancelled timer must not fire")

	b.Keystroke()
	assert.Equal(t, []bool{true, false, true}, sent.all())
}

func TestTypingBroadcasterWithSystemClock(t *testing.T) {
	defer goleak.VerifyNone(t)

	stopped := make(chan struct{})
	var once sync.Once
	b := NewTypingBroadcaster(nil, 20*time.Millisecond, func(typing bool) {
		if !typing {
			once.Do(func() { close(stopped) })
		}
	})

	start := time.Now()
	b.Keystroke()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("typing never stopped")
	}
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTypingTrackerExpiresIndicators(t *testing.T) {
	clock := newManualClock()
	tracker := NewTypingTracker(clock, TypingIdle)

	require.True(t, tracker.Observe(7, true))
	require.False(t, tracker.Observe(7, true), "refresh does not change the visible set")
	require.True(t, tracker.Observe(3, true))
	assert.Equal(t, []int64{3, 7}, tracker.Active())

	wait, ok := tracker.NextExpiry()
	require.True(t, ok)
	assert.Equal(t, TypingIdle, wait)

	clock.Advance(500 * time.Millisecond)
	tracker.Observe(7, true)
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, []int64{7}, tracker.Active())

	require.True(t, tracker.Observe(7, false))
	assert.Empty(t, tracker.Active())
	_, ok = tracker.NextExpiry()
	assert.False(t, ok)
}
