package services

import (
	"context"
	"errors"

	"github.com/campuslife/CampusChat/internal/metrics"
	"github.com/campuslife/CampusChat/internal/models"
	"github.com/jackc/pgx/v5"
)

type receiptStore interface {
	Insert(ctx context.Context, messageID int64, readerID int64) (bool, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.ReadReceipt, error)
}

type ReceiptService struct {
	receiptRepo receiptStore
	messageRepo messageReader
	members     membershipChecker
	notifier    changeNotifier
}

func NewReceiptService(
	receiptRepo receiptStore,
	messageRepo messageReader,
	members membershipChecker,
	notifier changeNotifier,
) *ReceiptService {
	return &ReceiptService{
		receiptRepo: receiptRepo,
		messageRepo: messageRepo,
		members:     members,
		notifier:    notifier,
	}
}

func (s *ReceiptService) ListReceipts(
	ctx context.Context,
	session models.Session,
	conversationID int64,
) ([]models.ReadReceipt, error) {
	if err := requireConversationAccess(ctx, s.members, session, conversationID); err != nil {
		return nil, err
	}
	return s.receiptRepo.ListByConversation(ctx, conversationID)
}

// MarkRead records that the caller has seen messageID. Marking an already
// read message is a no-op and reports created=false. Readers cannot mark
// their own messages.
func (s *ReceiptService) MarkRead(
	ctx context.Context,
	session models.Session,
	messageID int64,
) (bool, error) {
	if !session.Valid() {
		return false, ErrForbidden
	}
	if messageID <= 0 {
		return false, ErrInvalidInput
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	if err := requireConversationAccess(ctx, s.members, session, message.ConversationID); err != nil {
		return false, err
	}
	if message.SenderID == session.UserID {
		return false, ErrInvalidInput
	}

	created, err := s.receiptRepo.Insert(ctx, messageID, session.UserID)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	metrics.ReceiptsRecorded.Inc()
	s.notifier.Changed(ctx, message.ConversationID, models.TableReadReceipts)
	return true, nil
}

func requireConversationAccess(
	ctx context.Context,
	members membershipChecker,
	session models.Session,
	conversationID int64,
) error {
	if !session.Valid() {
		return ErrForbidden
	}
	if conversationID <= 0 {
		return ErrInvalidInput
	}

	ok, err := members.IsMember(ctx, conversationID, session.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
