package repository

import (
	"context"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, sender_id, content, COALESCE(media_urls, '{}'), is_edited, is_deleted, created_at, updated_at`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var message models.ChatMessage
	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.MediaURLs,
		&message.IsEdited,
		&message.IsDeleted,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
	mediaURLs []string,
) (*models.ChatMessage, error) {
	if mediaURLs == nil {
		mediaURLs = []string{}
	}
	query := `
		INSERT INTO messages (conversation_id, sender_id, content, media_urls)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(ctx, query, conversationID, senderID, content, mediaURLs))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID))
}

// ListByConversation pages backwards from the newest message and returns the
// page in chronological order.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, total, nil
}

func (r *MessageRepository) UpdateContent(ctx context.Context, messageID int64, content string) (*models.ChatMessage, error) {
	query := `
		UPDATE messages
		SET content = $2, is_edited = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(ctx, query, messageID, content))
}

func (r *MessageRepository) SoftDelete(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	query := `
		UPDATE messages
		SET content = '', media_urls = '{}', is_deleted = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}
