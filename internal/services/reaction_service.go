package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/campuslife/CampusChat/internal/metrics"
	"github.com/campuslife/CampusChat/internal/models"
	"github.com/jackc/pgx/v5"
)

const maxEmojiBytes = 16

type reactionStore interface {
	Toggle(ctx context.Context, messageID int64, userID int64, emoji string) (bool, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.Reaction, error)
}

type ReactionService struct {
	reactionRepo reactionStore
	messageRepo  messageReader
	members      membershipChecker
	notifier     changeNotifier
}

func NewReactionService(
	reactionRepo reactionStore,
	messageRepo messageReader,
	members membershipChecker,
	notifier changeNotifier,
) *ReactionService {
	return &ReactionService{
		reactionRepo: reactionRepo,
		messageRepo:  messageRepo,
		members:      members,
		notifier:     notifier,
	}
}

func (s *ReactionService) ListReactions(
	ctx context.Context,
	session models.Session,
	conversationID int64,
) ([]models.Reaction, error) {
	if err := requireConversationAccess(ctx, s.members, session, conversationID); err != nil {
		return nil, err
	}
	return s.reactionRepo.ListByConversation(ctx, conversationID)
}

// ToggleReaction removes the caller's emoji reaction if it exists and adds it
// otherwise. It returns whether the reaction is present afterwards.
func (s *ReactionService) ToggleReaction(
	ctx context.Context,
	session models.Session,
	messageID int64,
	emoji string,
) (bool, error) {
	if !session.Valid() {
		return false, ErrForbidden
	}

	emoji = strings.TrimSpace(emoji)
	if messageID <= 0 || emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
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
	if message.IsDeleted {
		return false, ErrConflict
	}

	added, err := s.reactionRepo.Toggle(ctx, messageID, session.UserID, emoji)
	if err != nil {
		return false, err
	}

	state := "removed"
	if added {
		state = "added"
	}
	metrics.ReactionsToggled.WithLabelValues(state).Inc()
	s.notifier.Changed(ctx, message.ConversationID, models.TableReactions)
	return added, nil
}
