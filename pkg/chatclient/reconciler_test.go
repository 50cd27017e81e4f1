package chatclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type receiptKey struct {
	message int64
	reader  int64
}

// memoryReceipts mimics the server: repeated mark-reads keep one row.
type memoryReceipts struct {
	mu      sync.Mutex
	rows    map[receiptKey]struct{}
	calls   map[receiptKey]int
	failFor map[int64]error
	block   chan struct{}
	entered chan int64
}

func newMemoryReceipts() *memoryReceipts {
	return &memoryReceipts{
		rows:    make(map[receiptKey]struct{}),
		calls:   make(map[receiptKey]int),
		failFor: make(map[int64]error),
	}
}

func (m *memoryReceipts) MarkRead(ctx context.Context, s Session, messageID int64) error {
	key := receiptKey{message: messageID, reader: s.UserID}

	m.mu.Lock()
	m.calls[key]++
	err := m.failFor[messageID]
	block, entered := m.block, m.entered
	m.mu.Unlock()

	if entered != nil {
		entered <- messageID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.rows[key] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *memoryReceipts) list() []models.ReadReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipts := make([]models.ReadReceipt, 0, len(m.rows))
	for key := range m.rows {
		receipts = append(receipts, models.ReadReceipt{MessageID: key.message, ReaderID: key.reader})
	}
	return receipts
}

func (m *memoryReceipts) callCount(message, reader int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[receiptKey{message: message, reader: reader}]
}

func messagesFrom(senders ...int64) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(senders))
	for i, sender := range senders {
		messages = append(messages, models.ChatMessage{ID: int64(i + 1), ConversationID: 1, SenderID: sender})
	}
	return messages
}

func TestPendingReceipts(t *testing.T) {
	messages := messagesFrom(2, 1, 2, 3, 2)
	messages = append(messages, messages[0])
	receipts := []models.ReadReceipt{
		{MessageID: 3, ReaderID: 1},
		{MessageID: 4, ReaderID: 9},
	}

	assert.Equal(t, []int64{1, 4, 5}, PendingReceipts(messages, receipts, 1))
	assert.Empty(t, PendingReceipts(messagesFrom(1, 1), nil, 1))
}

func TestPendingReceiptsIncludesDeletedMessages(t *testing.T) {
	messages := messagesFrom(2)
	messages[0].IsDeleted = true

	assert.Equal(t, []int64{1}, PendingReceipts(messages, nil, 1))
}

func TestReconcileIssuesOneReceiptPerUnreadMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemoryReceipts()
	reader := Session{Token: "t", UserID: 1, Role: models.RoleStudent}
	reconciler := NewReconciler(store, reader, 2, nil)
	messages := messagesFrom(2, 1, 3, 2, 2)

	report := reconciler.Reconcile(context.Background(), messages, store.list())
	assert.Equal(t, []int64{1, 3, 4, 5}, report.Pending)
	assert.Equal(t, 4, report.Issued)
	assert.Zero(t, report.Failed)

	for _, id := range []int64{1, 3, 4, 5} {
		assert.Equal(t, 1, store.callCount(id, 1), "message %d", id)
	}
	assert.Zero(t, store.callCount(2, 1), "own message is never marked")

	again := reconciler.Reconcile(context.Background(), messages, store.list())
	assert.Empty(t, again.Pending)
	assert.Zero(t, again.Issued)
	assert.Len(t, store.list(), 4)
}

func TestReconcileLeavesFailuresForNextPass(t *testing.T) {
	store := newMemoryReceipts()
	store.failFor[2] = errors.New("Failed to fetch")
	reconciler := NewReconciler(store, Session{Token: "t", UserID: 1}, 0, nil)
	messages := messagesFrom(2, 3)

	first := reconciler.Reconcile(context.Background(), messages, store.list())
	assert.Equal(t, 1, first.Failed)

	store.mu.Lock()
	delete(store.failFor, 2)
	store.mu.Unlock()

	second := reconciler.Reconcile(context.Background(), messages, store.list())
	assert.Equal(t, []int64{2}, second.Pending)
	assert.Zero(t, second.Failed)
	assert.Equal(t, 1, store.callCount(1, 1))
	assert.Equal(t, 2, store.callCount(2, 1))
}

func TestReconcileSkipsMessagesAlreadyInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemoryReceipts()
	store.block = make(chan struct{})
	store.entered = make(chan int64, 1)
	reconciler := NewReconciler(store, Session{Token: "t", UserID: 1}, 0, nil)
	messages := messagesFrom(2)

	done := make(chan ReconcileReport)
	go func() {
		done <- reconciler.Reconcile(context.Background(), messages, nil)
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass never wrote")
	}

	overlap := reconciler.Reconcile(context.Background(), messages, nil)
	assert.Equal(t, []int64{1}, overlap.Pending)
	assert.Zero(t, overlap.Issued)

	close(store.block)
	first := <-done
	assert.Equal(t, 1, first.Issued)
	assert.Equal(t, 1, store.callCount(1, 1))
}
