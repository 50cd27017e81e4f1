package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit     = 200
	defaultSubscribeTimeout = 10 * time.Second
	unsubscribeTimeout      = 2 * time.Second
	typingSendTimeout       = 2 * time.Second
)

var (
	ErrViewOpened        = errors.New("chatclient: view already opened")
	ErrSubscribeRejected = errors.New("chatclient: subscription rejected")
	// ErrAccessRevoked means the server ended the subscription because the
	// user is no longer a member of the conversation.
	ErrAccessRevoked = errors.New("chatclient: conversation access revoked")
)

type ViewState int32

const (
	ViewClosed ViewState = iota
	ViewSubscribing
	ViewLive
)

func (s ViewState) String() string {
	switch s {
	case ViewClosed:
		return "closed"
	case ViewSubscribing:
		return "subscribing"
	case ViewLive:
		return "live"
	default:
		return fmt.Sprintf("ViewState(%d)", int32(s))
	}
}

// Backend is the slice of the REST client a View reads and writes through.
type Backend interface {
	ListMessages(ctx context.Context, s Session, conversationID int64, limit int) ([]models.ChatMessage, error)
	ListReceipts(ctx context.Context, s Session, conversationID int64) ([]models.ReadReceipt, error)
	ListReactions(ctx context.Context, s Session, conversationID int64) ([]models.Reaction, error)
	MarkRead(ctx context.Context, s Session, messageID int64) error
}

// Snapshot is what a View renders after each refetch or typing change.
type Snapshot struct {
	ConversationID int64
	Messages       []models.ChatMessage
	// SeenBy lists, per message, the readers other than its author.
	SeenBy    map[int64][]int64
	Reactions map[int64][]models.ReactionSummary
	Typing    []int64
	// Pending holds the messages this pass is marking read.
	Pending   []int64
	FetchedAt time.Time
}

type ViewConfig struct {
	Session            Session
	ConversationID     int64
	Backend            Backend
	Feed               EventFeed
	Logger             *zap.Logger
	Clock              Clock
	HistoryLimit       int
	ReceiptConcurrency int
	SubscribeTimeout   time.Duration
	// OnUpdate is called from the view goroutine, one snapshot at a time.
	// It may call Close, which then returns without waiting for the view
	// goroutine to exit.
	OnUpdate func(Snapshot)
}

// View keeps one open conversation in sync: every change notification
// triggers a full refetch, after which unread messages are marked read in
// the background and a fresh Snapshot is published.
type View struct {
	cfg        ViewConfig
	logger     *zap.Logger
	state      atomic.Int32
	opened     atomic.Bool
	delivering atomic.Bool
	revoked    bool
	dispatch   *Dispatcher
	reconciler *Reconciler
	tracker    *TypingTracker
	typing     *TypingBroadcaster

	ctx    context.Context
	cancel context.CancelFunc
	stop   func()
	nudge  chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	last       Snapshot
	haveLast   bool
	nudgeTimer Timer
	err        error

	teardownOnce sync.Once
}

func NewView(cfg ViewConfig) (*View, error) {
	if !cfg.Session.Valid() {
		return nil, ErrNoSession
	}
	if cfg.ConversationID <= 0 {
		return nil, fmt.Errorf("chatclient: invalid conversation id %d", cfg.ConversationID)
	}
	if cfg.Backend == nil || cfg.Feed == nil {
		return nil, errors.New("chatclient: view needs a backend and a feed")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = defaultSubscribeTimeout
	}

	logger := cfg.Logger.With(zap.Int64("conversation_id", cfg.ConversationID))
	v := &View{
		cfg:        cfg,
		logger:     logger,
		dispatch:   NewDispatcher(logger, cfg.ReceiptConcurrency),
		reconciler: NewReconciler(cfg.Backend, cfg.Session, cfg.ReceiptConcurrency, logger),
		tracker:    NewTypingTracker(cfg.Clock, TypingIdle),
		nudge:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	v.typing = NewTypingBroadcaster(cfg.Clock, TypingIdle, v.sendTyping)
	return v, nil
}

func (v *View) State() ViewState {
	return ViewState(v.state.Load())
}

// Open subscribes to the conversation, waits for the server to confirm,
// loads the initial state and goes live. A view opens at most once.
func (v *View) Open(ctx context.Context) error {
	if !v.opened.CompareAndSwap(false, true) {
		return ErrViewOpened
	}
	v.state.Store(int32(ViewSubscribing))
	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))

	events, stop := v.cfg.Feed.Listen(v.cfg.ConversationID)
	v.stop = stop

	if err := v.subscribe(ctx, events); err != nil {
		v.fail(err)
		return err
	}

	snapshot, err := v.refresh(ctx)
	if err != nil {
		v.fail(err)
		return fmt.Errorf("initial load: %w", err)
	}

	v.state.Store(int32(ViewLive))
	v.publish(snapshot)
	go v.loop(events)
	return nil
}

// Close unsubscribes and stops the view. Requests still in flight are
// cancelled.
func (v *View) Close() error {
	if !v.opened.Load() {
		return nil
	}
	select {
	case <-v.done:
	default:
		// From inside OnUpdate the loop cannot exit until Close returns.
		if v.State() == ViewLive && !v.delivering.Load() {
			v.cancel()
			<-v.done
		}
	}
	v.teardown(nil)
	return nil
}

// Done is closed when the live loop has exited.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Err reports why the view closed on its own, such as ErrFeedClosed.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Keystroke feeds the local typing indicator.
func (v *View) Keystroke() {
	if v.State() == ViewLive {
		v.typing.Keystroke()
	}
}

// StopTyping clears the local typing indicator, e.g. after sending.
func (v *View) StopTyping() {
	v.typing.Stop()
}

// Snapshot returns the most recently published snapshot.
func (v *View) Snapshot() (Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last, v.haveLast
}

func (v *View) subscribe(ctx context.Context, events <-chan realtime.Event) error {
	waitCtx, cancel := context.WithTimeout(ctx, v.cfg.SubscribeTimeout)
	defer cancel()

	if err := v.cfg.Feed.Subscribe(waitCtx, v.cfg.ConversationID); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("subscribe: %w", waitCtx.Err())
		case event, ok := <-events:
			if !ok {
				return ErrFeedClosed
			}
			switch event.Type {
			case realtime.TypeSubscribed:
				return nil
			case realtime.TypeError:
				return fmt.Errorf("%w: %s", ErrSubscribeRejected, event.Error)
			}
		}
	}
}

func (v *View) loop(events <-chan realtime.Event) {
	defer close(v.done)

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-v.nudge:
			v.republish()
		case event, ok := <-events:
			if ok {
				dirty := v.apply(event)
				dirty, ok = v.drain(events, dirty)
				if ok && !v.revoked {
					v.step(dirty)
					continue
				}
			}
			switch {
			case v.ctx.Err() != nil:
			case v.revoked:
				v.finish(ErrAccessRevoked)
			default:
				v.finish(ErrFeedClosed)
			}
			return
		}
	}
}

// step refetches after a change, or republishes for typing-only updates.
func (v *View) step(dirty bool) {
	if !dirty {
		v.republish()
		return
	}
	snapshot, err := v.refresh(v.ctx)
	if err != nil {
		if v.ctx.Err() == nil {
			v.logger.Warn("conversation refetch failed", zap.Error(err))
		}
		return
	}
	v.publish(snapshot)
}

// drain consumes whatever is already queued so a burst of notifications
// costs one refetch.
func (v *View) drain(events <-chan realtime.Event, dirty bool) (bool, bool) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return dirty, false
			}
			if v.apply(event) {
				dirty = true
			}
		default:
			return dirty, true
		}
	}
}

// apply reports whether event requires a refetch.
func (v *View) apply(event realtime.Event) bool {
	switch event.Type {
	case realtime.TypeChange:
		return true
	case realtime.TypeTyping:
		if event.UserID != v.cfg.Session.UserID && v.tracker.Observe(event.UserID, event.IsTyping) {
			v.armNudge()
		}
	case realtime.TypeRevoked:
		if event.UserID == v.cfg.Session.UserID {
			v.revoked = true
		}
	case realtime.TypeError:
		v.logger.Debug("feed error for conversation", zap.String("error", event.Error))
	}
	return false
}

func (v *View) refresh(ctx context.Context) (Snapshot, error) {
	var (
		messages  []models.ChatMessage
		receipts  []models.ReadReceipt
		reactions []models.Reaction
	)
	s := v.cfg.Session
	conversationID := v.cfg.ConversationID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		messages, err = v.cfg.Backend.ListMessages(gctx, s, conversationID, v.cfg.HistoryLimit)
		return err
	})
	g.Go(func() error {
		var err error
		receipts, err = v.cfg.Backend.ListReceipts(gctx, s, conversationID)
		return err
	})
	g.Go(func() error {
		var err error
		reactions, err = v.cfg.Backend.ListReactions(gctx, s, conversationID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	pending := PendingReceipts(messages, receipts, s.UserID)
	if len(pending) > 0 {
		v.dispatch.Fire(v.ctx, "reconcile read receipts", v.reconciler.Op(messages, receipts))
	}

	return Snapshot{
		ConversationID: conversationID,
		Messages:       messages,
		SeenBy:         seenBy(messages, receipts),
		Reactions:      GroupReactions(reactions, s.UserID),
		Pending:        pending,
		FetchedAt:      v.cfg.Clock.Now(),
	}, nil
}

func seenBy(messages []models.ChatMessage, receipts []models.ReadReceipt) map[int64][]int64 {
	authors := make(map[int64]int64, len(messages))
	for _, message := range messages {
		authors[message.ID] = message.SenderID
	}

	readers := make(map[int64][]int64)
	for _, receipt := range receipts {
		author, ok := authors[receipt.MessageID]
		if !ok || author == receipt.ReaderID {
			continue
		}
		readers[receipt.MessageID] = append(readers[receipt.MessageID], receipt.ReaderID)
	}
	return readers
}

func (v *View) publish(snapshot Snapshot) {
	snapshot.Typing = v.tracker.Active()

	v.mu.Lock()
	v.last = snapshot
	v.haveLast = true
	v.mu.Unlock()

	if v.cfg.OnUpdate != nil {
		v.delivering.Store(true)
		defer v.delivering.Store(false)
		v.cfg.OnUpdate(snapshot)
	}
}

func (v *View) republish() {
	v.mu.Lock()
	snapshot, ok := v.last, v.haveLast
	v.mu.Unlock()
	if ok {
		v.publish(snapshot)
	}
	v.armNudge()
}

// armNudge schedules a republish for when the next typing indicator lapses.
func (v *View) armNudge() {
	wait, ok := v.tracker.NextExpiry()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.nudgeTimer != nil {
		v.nudgeTimer.Stop()
		v.nudgeTimer = nil
	}
	if !ok {
		return
	}
	v.nudgeTimer = v.cfg.Clock.AfterFunc(wait, func() {
		select {
		case v.nudge <- struct{}{}:
		default:
		}
	})
}

// sendTyping runs under the broadcaster lock, which keeps started and
// stopped frames in order.
func (v *View) sendTyping(typing bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(v.ctx), typingSendTimeout)
	defer cancel()
	Attempt(ctx, v.logger, "typing status", func(ctx context.Context) error {
		return v.cfg.Feed.SendTyping(ctx, v.cfg.ConversationID, typing)
	})
}

// finish records why the loop stopped on its own.
func (v *View) finish(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.logger.Info("conversation view closed", zap.Error(err))
	v.teardown(err)
}

// fail undoes a partial Open.
func (v *View) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	close(v.done)
	v.teardown(err)
}

func (v *View) teardown(cause error) {
	v.teardownOnce.Do(func() {
		v.typing.Stop()
		v.cancel()

		v.mu.Lock()
		if v.nudgeTimer != nil {
			v.nudgeTimer.Stop()
			v.nudgeTimer = nil
		}
		v.mu.Unlock()

		if !errors.Is(cause, ErrFeedClosed) && !errors.Is(cause, ErrAccessRevoked) {
			ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			if err := v.cfg.Feed.Unsubscribe(ctx, v.cfg.ConversationID); err != nil {
				v.logger.Debug("unsubscribe failed", zap.Error(err))
			}
			cancel()
		}
		if v.stop != nil {
			v.stop()
		}
		v.dispatch.Wait()
		v.state.Store(int32(ViewClosed))
	})
}
