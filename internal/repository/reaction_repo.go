package repository

import (
	"context"

	"github.com/campuslife/CampusChat/internal/models"
)

type ReactionRepository struct {
	db DBTX
}

func NewReactionRepository(db DBTX) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Toggle deletes the (message, user, emoji) row if present and inserts it
// otherwise, in a single statement. It returns true when the row now exists.
func (r *ReactionRepository) Toggle(ctx context.Context, messageID int64, userID int64, emoji string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		WITH removed AS (
			DELETE FROM message_reactions
			WHERE message_id = $1 AND user_id = $2 AND emoji = $3
			RETURNING 1
		)
		INSERT INTO message_reactions (message_id, user_id, emoji)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM removed)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReactionRepository) ListByConversation(ctx context.Context, conversationID int64) ([]models.Reaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at
		FROM message_reactions mr
		JOIN messages m ON m.id = mr.message_id
		WHERE m.conversation_id = $1
		ORDER BY mr.created_at, mr.message_id, mr.user_id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := make([]models.Reaction, 0)
	for rows.Next() {
		var reaction models.Reaction
		if err := rows.Scan(&reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, reaction)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reactions, nil
}
