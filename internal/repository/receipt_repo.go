package repository

import (
	"context"

	"github.com/campuslife/CampusChat/internal/models"
)

type ReceiptRepository struct {
	db DBTX
}

func NewReceiptRepository(db DBTX) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Insert records a receipt and reports whether a new row was written.
func (r *ReceiptRepository) Insert(ctx context.Context, messageID int64, readerID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO message_read_receipts (message_id, reader_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, reader_id) DO NOTHING
	`, messageID, readerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReceiptRepository) ListByConversation(ctx context.Context, conversationID int64) ([]models.ReadReceipt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rr.message_id, rr.reader_id, rr.read_at
		FROM message_read_receipts rr
		JOIN messages m ON m.id = rr.message_id
		WHERE m.conversation_id = $1
		ORDER BY rr.read_at, rr.message_id, rr.reader_id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]models.ReadReceipt, 0)
	for rows.Next() {
		var receipt models.ReadReceipt
		if err := rows.Scan(&receipt.MessageID, &receipt.ReaderID, &receipt.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}
