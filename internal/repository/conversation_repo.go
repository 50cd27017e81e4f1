package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, kind, name, description, created_by, last_message_id, last_message_at, created_at, updated_at`

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.Kind,
		&conversation.Name,
		&conversation.Description,
		&conversation.CreatedBy,
		&conversation.LastMessageID,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// DirectKey orders the pair so (a, b) and (b, a) share one conversation.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (r *ConversationRepository) CreateOrGetDirect(
	ctx context.Context,
	createdBy int64,
	peerID int64,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (kind, name, description, direct_key, created_by)
		VALUES ('direct', '', '', $1, $2)
		ON CONFLICT (direct_key)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING ` + conversationColumns

	return scanConversation(r.db.QueryRow(ctx, query, DirectKey(createdBy, peerID), createdBy))
}

func (r *ConversationRepository) CreateGroup(
	ctx context.Context,
	createdBy int64,
	name string,
	description string,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (kind, name, description, created_by)
		VALUES ('group', $1, $2, $3)
		RETURNING ` + conversationColumns

	return scanConversation(r.db.QueryRow(ctx, query, name, description, createdBy))
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) UpdateGroup(
	ctx context.Context,
	conversationID int64,
	name string,
	description string,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1 AND kind = 'group'
		RETURNING ` + conversationColumns

	return scanConversation(r.db.QueryRow(ctx, query, conversationID, name, description))
}

func (r *ConversationRepository) TouchLastMessage(ctx context.Context, conversationID int64, messageID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, conversationID, messageID)
	return err
}

// AddMember reports false when the user was already a member.
func (r *ConversationRepository) AddMember(
	ctx context.Context,
	conversationID int64,
	userID int64,
	role string,
) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID, role)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepository) RemoveMember(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM conversation_members
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepository) GetMember(
	ctx context.Context,
	conversationID int64,
	userID int64,
) (*models.ConversationMember, error) {
	query := `
		SELECT cm.conversation_id, cm.user_id, cm.role, u.display_name, cm.joined_at
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.conversation_id = $1 AND cm.user_id = $2
	`

	var member models.ConversationMember
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(
		&member.ConversationID,
		&member.UserID,
		&member.Role,
		&member.DisplayName,
		&member.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *ConversationRepository) CountAdmins(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM conversation_members
		WHERE conversation_id = $1 AND role = 'admin'
	`, conversationID).Scan(&count)
	return count, err
}

func (r *ConversationRepository) ListMembers(ctx context.Context, conversationID int64) ([]models.ConversationMember, error) {
	rows, err := r.db.Query(ctx, `
		SELECT cm.conversation_id, cm.user_id, cm.role, u.display_name, cm.joined_at
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.conversation_id = $1
		ORDER BY cm.joined_at, cm.user_id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]models.ConversationMember, 0)
	for rows.Next() {
		var member models.ConversationMember
		if err := rows.Scan(
			&member.ConversationID,
			&member.UserID,
			&member.Role,
			&member.DisplayName,
			&member.JoinedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *ConversationRepository) ListForMember(
	ctx context.Context,
	userID int64,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id,
			c.kind,
			c.name,
			c.description,
			c.created_by,
			c.last_message_id,
			c.last_message_at,
			c.created_at,
			c.updated_at,
			lm.id,
			lm.conversation_id,
			lm.sender_id,
			lm.content,
			lm.media_urls,
			lm.is_edited,
			lm.is_deleted,
			lm.created_at,
			lm.updated_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		JOIN conversation_members me ON me.conversation_id = c.id AND me.user_id = $1
		LEFT JOIN messages lm ON lm.id = c.last_message_id
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.sender_id <> $1
			  AND NOT EXISTS (
				SELECT 1 FROM message_read_receipts rr
				WHERE rr.message_id = m.id AND rr.reader_id = $1
			  )
		) uc ON TRUE
		ORDER BY COALESCE(c.last_message_at, c.updated_at, c.created_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullInt64
		var messageConversationID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageContent sql.NullString
		var messageMedia []string
		var messageIsEdited sql.NullBool
		var messageIsDeleted sql.NullBool
		var messageCreatedAt sql.NullTime
		var messageUpdatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.Kind,
			&summary.Name,
			&summary.Description,
			&summary.CreatedBy,
			&summary.LastMessageID,
			&summary.LastMessageAt,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&messageID,
			&messageConversationID,
			&messageSenderID,
			&messageContent,
			&messageMedia,
			&messageIsEdited,
			&messageIsDeleted,
			&messageCreatedAt,
			&messageUpdatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.ChatMessage{
				ID:             messageID.Int64,
				ConversationID: messageConversationID.Int64,
				SenderID:       messageSenderID.Int64,
				Content:        messageContent.String,
				MediaURLs:      messageMedia,
				IsEdited:       messageIsEdited.Bool,
				IsDeleted:      messageIsDeleted.Bool,
				CreatedAt:      messageCreatedAt.Time,
				UpdatedAt:      messageUpdatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}
