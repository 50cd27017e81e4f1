package chatclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/campuslife/CampusChat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultReceiptConcurrency = 8

// PendingReceipts returns the ids of messages that reader has not authored
// and has no receipt for, in list order and without duplicates.
func PendingReceipts(messages []models.ChatMessage, receipts []models.ReadReceipt, reader int64) []int64 {
	seen := make(map[int64]struct{}, len(receipts))
	for _, receipt := range receipts {
		if receipt.ReaderID == reader {
			seen[receipt.MessageID] = struct{}{}
		}
	}

	pending := make([]int64, 0)
	for _, message := range messages {
		if message.SenderID == reader {
			continue
		}
		if _, ok := seen[message.ID]; ok {
			continue
		}
		seen[message.ID] = struct{}{}
		pending = append(pending, message.ID)
	}
	return pending
}

type receiptWriter interface {
	MarkRead(ctx context.Context, s Session, messageID int64) error
}

type ReconcileReport struct {
	Pending []int64
	// Issued counts mark-read calls started by this pass. Ids already being
	// written by an earlier pass are skipped.
	Issued int
	Failed int
}

// Reconciler issues one mark-read per unread message. Writes for different
// messages run concurrently and a failed write is left for the next pass.
type Reconciler struct {
	writer  receiptWriter
	session Session
	limit   int
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewReconciler(writer receiptWriter, session Session, concurrency int, logger *zap.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = defaultReceiptConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		writer:   writer,
		session:  session,
		limit:    concurrency,
		logger:   logger,
		inflight: make(map[int64]struct{}),
	}
}

// Reconcile blocks until every write it started has finished.
func (r *Reconciler) Reconcile(ctx context.Context, messages []models.ChatMessage, receipts []models.ReadReceipt) ReconcileReport {
	report := ReconcileReport{Pending: PendingReceipts(messages, receipts, r.session.UserID)}
	claimed := r.claim(report.Pending)
	report.Issued = len(claimed)
	if len(claimed) == 0 {
		return report
	}

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.limit)
	for _, messageID := range claimed {
		messageID := messageID
		g.Go(func() error {
			defer r.release(messageID)
			if err := r.writer.MarkRead(ctx, r.session, messageID); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Debug("read receipts left for next pass",
			zap.Int64("failed", failed.Load()),
			zap.Error(err),
		)
	}
	report.Failed = int(failed.Load())
	return report
}

// Op wraps a pass as a BestEffort for a Dispatcher.
func (r *Reconciler) Op(messages []models.ChatMessage, receipts []models.ReadReceipt) BestEffort {
	return func(ctx context.Context) error {
		r.Reconcile(ctx, messages, receipts)
		return nil
	}
}

func (r *Reconciler) claim(ids []int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimed := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, busy := r.inflight[id]; busy {
			continue
		}
		r.inflight[id] = struct{}{}
		claimed = append(claimed, id)
	}
	return claimed
}

func (r *Reconciler) release(id int64) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}
