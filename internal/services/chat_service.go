package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/campuslife/CampusChat/internal/metrics"
	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxGroupNameLength   = 120
	maxDescriptionLength = 2000
	maxMessageLength     = 4000
	maxMediaPerMessage   = 10
	maxGroupSize         = 500
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	CountExisting(ctx context.Context, ids []int64) (int, error)
}

type ChatService struct {
	db               *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         userReader
	notifier         membershipNotifier
	media            MediaStore
}

type CreateGroupInput struct {
	Name        string
	Description string
	MemberIDs   []int64
}

type UpdateGroupInput struct {
	Name        *string
	Description *string
}

func NewChatService(
	db *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo userReader,
	notifier membershipNotifier,
	media MediaStore,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		notifier:         notifier,
		media:            media,
	}
}

func (s *ChatService) IsMember(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	_, err := s.conversationRepo.GetMember(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// requireMember hides conversations the caller cannot see behind ErrNotFound.
func (s *ChatService) requireMember(
	ctx context.Context,
	session models.Session,
	conversationID int64,
) (*models.ConversationMember, error) {
	if !session.Valid() {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	member, err := s.conversationRepo.GetMember(ctx, conversationID, session.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return member, nil
}

func (s *ChatService) requireGroupAdmin(
	ctx context.Context,
	session models.Session,
	conversationID int64,
) (*models.Conversation, error) {
	member, err := s.requireMember(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsGroup() {
		return nil, ErrInvalidInput
	}
	if !member.IsAdmin() {
		return nil, ErrForbidden
	}
	return conversation, nil
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	session models.Session,
) ([]models.ConversationSummary, error) {
	if !session.Valid() {
		return nil, ErrForbidden
	}

	return s.conversationRepo.ListForMember(ctx, session.UserID)
}

func (s *ChatService) CreateDirectConversation(
	ctx context.Context,
	session models.Session,
	peerID int64,
) (*models.Conversation, error) {
	if !session.Valid() {
		return nil, ErrForbidden
	}
	if peerID <= 0 || peerID == session.UserID {
		return nil, ErrInvalidInput
	}

	if _, err := s.userRepo.GetByID(ctx, peerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)

	conversation, err := txConversationRepo.CreateOrGetDirect(ctx, session.UserID, peerID)
	if err != nil {
		return nil, err
	}
	for _, userID := range []int64{session.UserID, peerID} {
		if _, err := txConversationRepo.AddMember(ctx, conversation.ID, userID, models.MemberRoleMember); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.notifier.Changed(ctx, conversation.ID, models.TableConversations)
	return conversation, nil
}

func (s *ChatService) CreateGroup(
	ctx context.Context,
	session models.Session,
	input CreateGroupInput,
) (*models.Conversation, error) {
	if !session.Valid() {
		return nil, ErrForbidden
	}

	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)
	if name == "" || len(name) > maxGroupNameLength || len(description) > maxDescriptionLength {
		return nil, ErrInvalidInput
	}

	memberIDs := uniqueIDs(input.MemberIDs, session.UserID)
	if len(memberIDs)+1 > maxGroupSize {
		return nil, ErrInvalidInput
	}
	for _, id := range memberIDs {
		if id <= 0 {
			return nil, ErrInvalidInput
		}
	}
	existing, err := s.userRepo.CountExisting(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	if existing != len(memberIDs) {
		return nil, ErrUserNotFound
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)

	conversation, err := txConversationRepo.CreateGroup(ctx, session.UserID, name, description)
	if err != nil {
		return nil, err
	}
	if _, err := txConversationRepo.AddMember(ctx, conversation.ID, session.UserID, models.MemberRoleAdmin); err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if _, err := txConversationRepo.AddMember(ctx, conversation.ID, id, models.MemberRoleMember); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return conversation, nil
}

// UpdateGroup renames or re-describes a group. Concurrent admin edits are
// last-write-wins.
func (s *ChatService) UpdateGroup(
	ctx context.Context,
	session models.Session,
	conversationID int64,
	input UpdateGroupInput,
) (*models.Conversation, error) {
	conversation, err := s.requireGroupAdmin(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}

	name := conversation.Name
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	description := conversation.Description
	if input.Description != nil {
		description = strings.TrimSpace(*input.Description)
	}
	if name == "" || len(name) > maxGroupNameLength || len(description) > maxDescriptionLength {
		return nil, ErrInvalidInput
	}

	updated, err := s.conversationRepo.UpdateGroup(ctx, conversationID, name, description)
	if err != nil {
		return nil, err
	}

	s.notifier.Changed(ctx, conversationID, models.TableConversations)
	return updated, nil
}

func (s *ChatService) ListMembers(
	ctx context.Context,
	session models.Session,
	conversationID int64,
) ([]models.ConversationMember, error) {
	if _, err := s.requireMember(ctx, session, conversationID); err != nil {
		return nil, err
	}
	return s.conversationRepo.ListMembers(ctx, conversationID)
}

func (s *ChatService) AddMember(
	ctx context.Context,
	session models.Session,
	conversationID int64,
	userID int64,
) error {
	if _, err := s.requireGroupAdmin(ctx, session, conversationID); err != nil {
		return err
	}
	if userID <= 0 {
		return ErrInvalidInput
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	added, err := s.conversationRepo.AddMember(ctx, conversationID, userID, models.MemberRoleMember)
	if err != nil {
		return err
	}
	if !added {
		return ErrConflict
	}

	s.notifier.Changed(ctx, conversationID, models.TableMembers)
	return nil
}

func (s *ChatService) RemoveMember(
	ctx context.Context,
	session models.Session,
	conversationID int64,
	userID int64,
) error {
	if _, err := s.requireGroupAdmin(ctx, session, conversationID); err != nil {
		return err
	}
	if userID <= 0 || userID == session.UserID {
		return ErrInvalidInput
	}

	removed, err := s.conversationRepo.RemoveMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}

	s.notifier.Revoked(ctx, conversationID, userID)
	s.notifier.Changed(ctx, conversationID, models.TableMembers)
	return nil
}

// LeaveConversation removes the caller from a group. The last admin cannot
// leave while other members remain.
func (s *ChatService) LeaveConversation(
	ctx context.Context,
	session models.Session,
	conversationID int64,
) error {
	member, err := s.requireMember(ctx, session, conversationID)
	if err != nil {
		return err
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.IsGroup() {
		return ErrInvalidInput
	}

	if member.IsAdmin() {
		admins, err := s.conversationRepo.CountAdmins(ctx, conversationID)
		if err != nil {
			return err
		}
		members, err := s.conversationRepo.ListMembers(ctx, conversationID)
		if err != nil {
			return err
		}
		if admins == 1 && len(members) > 1 {
			return ErrConflict
		}
	}

	if _, err := s.conversationRepo.RemoveMember(ctx, conversationID, session.UserID); err != nil {
		return err
	}

	s.notifier.Revoked(ctx, conversationID, session.UserID)
	s.notifier.Changed(ctx, conversationID, models.TableMembers)
	return nil
}

func (s *ChatService) ListMessages(
	ctx context.Context,
	session models.Session,
	conversationID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}
	if _, err := s.requireMember(ctx, session, conversationID); err != nil {
		return nil, 0, err
	}

	return s.messageRepo.ListByConversation(ctx, conversationID, limit, (page-1)*limit)
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	session models.Session,
	conversationID int64,
	content string,
	mediaURLs []string,
) (*models.ChatMessage, error) {
	trimmed := strings.TrimSpace(content)
	media, err := cleanMediaURLs(mediaURLs)
	if err != nil {
		return nil, err
	}
	if (trimmed == "" && len(media) == 0) || len(trimmed) > maxMessageLength {
		return nil, ErrInvalidInput
	}

	if _, err := s.requireMember(ctx, session, conversationID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, conversationID, session.UserID, trimmed, media)
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.TouchLastMessage(ctx, conversationID, message.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	s.notifier.Changed(ctx, conversationID, models.TableMessages)
	return message, nil
}

func (s *ChatService) EditMessage(
	ctx context.Context,
	session models.Session,
	messageID int64,
	content string,
) (*models.ChatMessage, error) {
	trimmed := strings.TrimSpace(content)
	if messageID <= 0 || trimmed == "" || len(trimmed) > maxMessageLength {
		return nil, ErrInvalidInput
	}

	message, err := s.visibleMessage(ctx, session, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != session.UserID {
		return nil, ErrForbidden
	}
	if message.IsDeleted {
		return nil, ErrConflict
	}

	updated, err := s.messageRepo.UpdateContent(ctx, messageID, trimmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, err
	}

	s.notifier.Changed(ctx, message.ConversationID, models.TableMessages)
	return updated, nil
}

// DeleteMessage soft-deletes. The author may always delete; in groups an
// admin may delete anyone's message.
func (s *ChatService) DeleteMessage(
	ctx context.Context,
	session models.Session,
	messageID int64,
) (*models.ChatMessage, error) {
	if messageID <= 0 {
		return nil, ErrInvalidInput
	}

	message, err := s.visibleMessage(ctx, session, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return message, nil
	}

	if message.SenderID != session.UserID {
		if _, err := s.requireGroupAdmin(ctx, session, message.ConversationID); err != nil {
			if errors.Is(err, ErrInvalidInput) {
				return nil, ErrForbidden
			}
			return nil, err
		}
	}

	deleted, err := s.messageRepo.SoftDelete(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.removeMedia(ctx, message.MediaURLs)

	s.notifier.Changed(ctx, message.ConversationID, models.TableMessages)
	return deleted, nil
}

func (s *ChatService) visibleMessage(
	ctx context.Context,
	session models.Session,
	messageID int64,
) (*models.ChatMessage, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if _, err := s.requireMember(ctx, session, message.ConversationID); err != nil {
		return nil, err
	}
	return message, nil
}

// removeMedia drops stored attachments of a deleted message. Failures leave
// an orphaned object behind and are not reported.
func (s *ChatService) removeMedia(ctx context.Context, urls []string) {
	if s.media == nil {
		return
	}
	for _, url := range urls {
		if s.media.Owns(url) {
			_ = s.media.Delete(ctx, url)
		}
	}
}

func uniqueIDs(ids []int64, exclude int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func cleanMediaURLs(urls []string) ([]string, error) {
	if len(urls) > maxMediaPerMessage {
		return nil, fmt.Errorf("%w: at most %d attachments", ErrInvalidInput, maxMediaPerMessage)
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil, ErrInvalidInput
		}
		out = append(out, trimmed)
	}
	return out, nil
}
