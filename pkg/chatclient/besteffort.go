package chatclient

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// BestEffort is an at-most-once background write, such as a read receipt or
// a typing frame. Its failure is logged and dropped; the next trigger covers
// it. User-facing mutations are plain Client methods instead.
type BestEffort func(ctx context.Context) error

const defaultDispatchConcurrency = 4

// Dispatcher runs BestEffort operations in the background with bounded
// concurrency. Fire has no error result, so callers cannot come to depend on
// the outcome.
type Dispatcher struct {
	logger  *zap.Logger
	slots   chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewDispatcher(logger *zap.Logger, concurrency int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultDispatchConcurrency
	}
	return &Dispatcher{
		logger: logger,
		slots:  make(chan struct{}, concurrency),
	}
}

// Fire starts op and returns immediately. Operations still waiting for a
// slot when ctx is done are dropped without running.
func (d *Dispatcher) Fire(ctx context.Context, name string, op BestEffort) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.slots <- struct{}{}:
		case <-ctx.Done():
			d.dropped.Add(1)
			return
		}
		defer func() { <-d.slots }()

		if !Attempt(ctx, d.logger, name, op) {
			d.dropped.Add(1)
		}
	}()
}

// Wait blocks until every fired operation has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dropped counts operations that failed or never ran.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Attempt runs op inline for callers that need ordering, such as typing
// frames. It reports whether op succeeded so counters can be kept; the error
// itself only reaches the log.
func Attempt(ctx context.Context, logger *zap.Logger, name string, op BestEffort) bool {
	if err := op(ctx); err != nil {
		logger.Debug("best-effort operation dropped", zap.String("op", name), zap.Error(err))
		return false
	}
	return true
}
