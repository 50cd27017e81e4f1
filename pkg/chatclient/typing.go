package chatclient

import (
	"sort"
	"sync"
	"time"
)

// TypingIdle is how long typing status lasts without another keystroke.
const TypingIdle = time.Second

type Timer interface {
	Stop() bool
}

// Clock is the time source for typing timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// TypingBroadcaster debounces keystrokes into started/stopped transitions.
// send is called with the lock held and must not call back into the
// broadcaster.
type TypingBroadcaster struct {
	mu         sync.Mutex
	clock      Clock
	idle       time.Duration
	send       func(typing bool)
	typing     bool
	timer      Timer
	generation uint64
}

func NewTypingBroadcaster(clock Clock, idle time.Duration, send func(typing bool)) *TypingBroadcaster {
	if clock == nil {
		clock = SystemClock()
	}
	if idle <= 0 {
		idle = TypingIdle
	}
	return &TypingBroadcaster{clock: clock, idle: idle, send: send}
}

// Keystroke announces typing if the user was idle and re-arms the idle
// timer either way.
func (b *TypingBroadcaster) Keystroke() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
	}
	b.generation++
	generation := b.generation
	b.timer = b.clock.AfterFunc(b.idle, func() { b.expire(generation) })

	if !b.typing {
		b.typing = true
		b.send(true)
	}
}

// Stop ends typing immediately, for example when the message is sent.
func (b *TypingBroadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++
	if b.typing {
		b.typing = false
		b.send(false)
	}
}

func (b *TypingBroadcaster) Typing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typing
}

// A timer that fired after being replaced carries a stale generation.
func (b *TypingBroadcaster) expire(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation || !b.typing {
		return
	}
	b.typing = false
	b.timer = nil
	b.send(false)
}

// TypingTracker holds the peers currently shown as typing. An indicator
// lapses after the idle window unless refreshed.
type TypingTracker struct {
	mu      sync.Mutex
	clock   Clock
	idle    time.Duration
	expires map[int64]time.Time
}

func NewTypingTracker(clock Clock, idle time.Duration) *TypingTracker {
	if clock == nil {
		clock = SystemClock()
	}
	if idle <= 0 {
		idle = TypingIdle
	}
	return &TypingTracker{clock: clock, idle: idle, expires: make(map[int64]time.Time)}
}

// Observe records a typing event and reports whether the visible set changed.
func (t *TypingTracker) Observe(userID int64, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	_, wasActive := t.activeLocked(userID, now)
	if typing {
		t.expires[userID] = now.Add(t.idle)
		return !wasActive
	}
	delete(t.expires, userID)
	return wasActive
}

// Active returns the typing users in ascending id order.
func (t *TypingTracker) Active() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	users := make([]int64, 0, len(t.expires))
	for userID := range t.expires {
		if _, ok := t.activeLocked(userID, now); ok {
			users = append(users, userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// NextExpiry returns how long until the soonest indicator lapses.
func (t *TypingTracker) NextExpiry() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var soonest time.Duration
	found := false
	for userID := range t.expires {
		deadline, ok := t.activeLocked(userID, now)
		if !ok {
			continue
		}
		if wait := deadline.Sub(now); !found || wait < soonest {
			soonest = wait
			found = true
		}
	}
	return soonest, found
}

func (t *TypingTracker) activeLocked(userID int64, now time.Time) (time.Time, bool) {
	deadline, ok := t.expires[userID]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(deadline) {
		delete(t.expires, userID)
		return time.Time{}, false
	}
	return deadline, true
}
