package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

type integrationServices struct {
	chat      *ChatService
	receipts  *ReceiptService
	reactions *ReactionService
	notifier  *revocationLog
}

func TestChatServiceDirectMessageReadFlow(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	services := newIntegrationServices(pool)

	aliceID := createTestAccount(t, ctx, pool, "alice")
	bobID := createTestAccount(t, ctx, pool, "bob")
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, aliceID, bobID) })

	alice := models.Session{UserID: aliceID, Role: models.RoleStudent}
	bob := models.Session{UserID: bobID, Role: models.RoleStudent}

	conversation, err := services.chat.CreateDirectConversation(ctx, alice, bobID)
	if err != nil {
		t.Fatalf("CreateDirectConversation: %v", err)
	}

	again, err := services.chat.CreateDirectConversation(ctx, bob, aliceID)
	if err != nil {
		t.Fatalf("CreateDirectConversation (reverse): %v", err)
	}
	if again.ID != conversation.ID {
		t.Fatalf("expected the same direct conversation, got %d and %d", conversation.ID, again.ID)
	}

	message, err := services.chat.SendMessage(ctx, alice, conversation.ID, "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	summaries, err := services.chat.ListConversations(ctx, bob)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	summary := findSummary(summaries, conversation.ID)
	if summary == nil {
		t.Fatalf("expected conversation %d in bob's list", conversation.ID)
	}
	if summary.UnreadCount != 1 {
		t.Fatalf("expected 1 unread message, got %d", summary.UnreadCount)
	}
	if summary.LastMessage == nil || summary.LastMessage.ID != message.ID {
		t.Fatalf("expected last message %d, got %+v", message.ID, summary.LastMessage)
	}

	created, err := services.receipts.MarkRead(ctx, bob, message.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !created {
		t.Fatalf("expected receipt to be created")
	}

	created, err = services.receipts.MarkRead(ctx, bob, message.ID)
	if err != nil {
		t.Fatalf("MarkRead (repeat): %v", err)
	}
	if created {
		t.Fatalf("expected repeat mark-read to be a no-op")
	}

	if _, err := services.receipts.MarkRead(ctx, alice, message.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected author mark-read to fail with ErrInvalidInput, got %v", err)
	}

	receipts, err := services.receipts.ListReceipts(ctx, alice, conversation.ID)
	if err != nil {
		t.Fatalf("ListReceipts: %v", err)
	}
	if len(receipts) != 1 || receipts[0].MessageID != message.ID || receipts[0].ReaderID != bobID {
		t.Fatalf("expected one receipt by bob, got %+v", receipts)
	}

	summaries, err = services.chat.ListConversations(ctx, bob)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if summary := findSummary(summaries, conversation.ID); summary == nil || summary.UnreadCount != 0 {
		t.Fatalf("expected no unread messages after reading, got %+v", summary)
	}
}

func TestChatServiceReactionToggleRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	services := newIntegrationServices(pool)

	aliceID := createTestAccount(t, ctx, pool, "alice")
	bobID := createTestAccount(t, ctx, pool, "bob")
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, aliceID, bobID) })

	alice := models.Session{UserID: aliceID, Role: models.RoleStudent}
	bob := models.Session{UserID: bobID, Role: models.RoleStudent}

	conversation, err := services.chat.CreateDirectConversation(ctx, alice, bobID)
	if err != nil {
		t.Fatalf("CreateDirectConversation: %v", err)
	}
	message, err := services.chat.SendMessage(ctx, alice, conversation.ID, "lunch?", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	added, err := services.reactions.ToggleReaction(ctx, bob, message.ID, "👍")
	if err != nil || !added {
		t.Fatalf("expected reaction to be added, got added=%v err=%v", added, err)
	}
	added, err = services.reactions.ToggleReaction(ctx, bob, message.ID, "👍")
	if err != nil || added {
		t.Fatalf("expected reaction to be removed, got added=%v err=%v", added, err)
	}

	reactions, err := services.reactions.ListReactions(ctx, alice, conversation.ID)
	if err != nil {
		t.Fatalf("ListReactions: %v", err)
	}
	if len(reactions) != 0 {
		t.Fatalf("expected no reactions after double toggle, got %+v", reactions)
	}
}

func TestChatServiceGroupAdministration(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	services := newIntegrationServices(pool)

	adminID := createTestAccount(t, ctx, pool, "admin")
	memberID := createTestAccount(t, ctx, pool, "member")
	lateID := createTestAccount(t, ctx, pool, "late")
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, adminID, memberID, lateID) })

	admin := models.Session{UserID: adminID, Role: models.RoleStudent}
	member := models.Session{UserID: memberID, Role: models.RoleStudent}

	group, err := services.chat.CreateGroup(ctx, admin, CreateGroupInput{
		Name:      "Algorithms study group",
		MemberIDs: []int64{memberID, memberID, adminID},
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	members, err := services.chat.ListMembers(ctx, member, group.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	newName := "Algorithms II"
	if _, err := services.chat.UpdateGroup(ctx, member, group.ID, UpdateGroupInput{Name: &newName}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected non-admin rename to be forbidden, got %v", err)
	}
	updated, err := services.chat.UpdateGroup(ctx, admin, group.ID, UpdateGroupInput{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}
	if updated.Name != newName {
		t.Fatalf("expected name %q, got %q", newName, updated.Name)
	}

	if err := services.chat.AddMember(ctx, admin, group.ID, lateID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := services.chat.AddMember(ctx, admin, group.ID, lateID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate add to conflict, got %v", err)
	}

	if err := services.chat.LeaveConversation(ctx, admin, group.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected last admin leave to conflict, got %v", err)
	}

	message, err := services.chat.SendMessage(ctx, member, group.ID, "hello all", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	deleted, err := services.chat.DeleteMessage(ctx, admin, message.ID)
	if err != nil {
		t.Fatalf("DeleteMessage by admin: %v", err)
	}
	if !deleted.IsDeleted || deleted.Content != "" {
		t.Fatalf("expected soft-deleted message, got %+v", deleted)
	}

	if err := services.chat.RemoveMember(ctx, admin, group.ID, memberID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if _, _, err := services.chat.ListMessages(ctx, member, group.ID, 1, 50); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected removed member to lose access, got %v", err)
	}

	late := models.Session{UserID: lateID, Role: models.RoleStudent}
	if err := services.chat.LeaveConversation(ctx, late, group.ID); err != nil {
		t.Fatalf("LeaveConversation: %v", err)
	}

	revoked := services.notifier.all()
	if len(revoked) != 2 ||
		revoked[0] != (models.ConversationMember{ConversationID: group.ID, UserID: memberID}) ||
		revoked[1] != (models.ConversationMember{ConversationID: group.ID, UserID: lateID}) {
		t.Fatalf("expected revocations for the removed and departed members, got %+v", revoked)
	}
}

func findSummary(summaries []models.ConversationSummary, conversationID int64) *models.ConversationSummary {
	for i := range summaries {
		if summaries[i].ID == conversationID {
			return &summaries[i]
		}
	}
	return nil
}

// revocationLog ignores change notifications and remembers revocations.
type revocationLog struct {
	mu      sync.Mutex
	revoked []models.ConversationMember
}

func (*revocationLog) Changed(context.Context, int64, string) {}

func (r *revocationLog) Revoked(_ context.Context, conversationID int64, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, models.ConversationMember{ConversationID: conversationID, UserID: userID})
}

func (r *revocationLog) all() []models.ConversationMember {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConversationMember(nil), r.revoked...)
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationServices(pool *pgxpool.Pool) integrationServices {
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	notifier := &revocationLog{}

	chat := NewChatService(pool, conversationRepo, messageRepo, userRepo, notifier, nil)
	return integrationServices{
		chat:      chat,
		receipts:  NewReceiptService(repository.NewReceiptRepository(pool), messageRepo, chat, notifier),
		reactions: NewReactionService(repository.NewReactionRepository(pool), messageRepo, chat, notifier),
		notifier:  notifier,
	}
}

func createTestAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) int64 {
	t.Helper()

	userRepo := repository.NewUserRepository(pool)
	user := &models.User{
		Email:        fmt.Sprintf("chat-test-%s-%d@example.com", name, time.Now().UnixNano()),
		PasswordHash: "test-hash",
		Role:         models.RoleStudent,
		DisplayName:  name,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return user.ID
}

func cleanupTestUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if len(userIDs) == 0 {
		return
	}

	if _, err := pool.Exec(ctx, "DELETE FROM conversations WHERE created_by = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup conversations: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM users WHERE id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup users: %v", err)
	}
}
