package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/campuslife/CampusChat/internal/models"
)

type reactionKey struct {
	messageID int64
	userID    int64
	emoji     string
}

type memoryReactionStore struct {
	mu   sync.Mutex
	rows map[reactionKey]struct{}
}

func newMemoryReactionStore() *memoryReactionStore {
	return &memoryReactionStore{rows: make(map[reactionKey]struct{})}
}

func (s *memoryReactionStore) Toggle(_ context.Context, messageID int64, userID int64, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	if _, ok := s.rows[key]; ok {
		delete(s.rows, key)
		return false, nil
	}
	s.rows[key] = struct{}{}
	return true, nil
}

func (s *memoryReactionStore) ListByConversation(_ context.Context, _ int64) ([]models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Reaction, 0, len(s.rows))
	for key := range s.rows {
		out = append(out, models.Reaction{MessageID: key.messageID, UserID: key.userID, Emoji: key.emoji})
	}
	return out, nil
}

func newReactionFixture() (*ReactionService, *memoryReactionStore, *recordingNotifier) {
	store := newMemoryReactionStore()
	notifier := &recordingNotifier{}
	messages := &stubMessageReader{messages: map[int64]*models.ChatMessage{
		10: {ID: 10, ConversationID: 1, SenderID: 100, Content: "hi"},
		12: {ID: 12, ConversationID: 1, SenderID: 100, IsDeleted: true},
	}}
	members := &stubMembers{members: map[int64]map[int64]bool{
		1: {100: true, 200: true},
	}}
	return NewReactionService(store, messages, members, notifier), store, notifier
}

func TestToggleReactionIsItsOwnInverse(t *testing.T) {
	service, store, notifier := newReactionFixture()
	session := models.Session{UserID: 200, Role: models.RoleStudent}

	added, err := service.ToggleReaction(context.Background(), session, 10, "👍")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !added {
		t.Fatalf("expected first toggle to add the reaction")
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected 1 reaction row, got %d", len(store.rows))
	}

	added, err = service.ToggleReaction(context.Background(), session, 10, "👍")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if added {
		t.Fatalf("expected second toggle to remove the reaction")
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected no reaction rows, got %d", len(store.rows))
	}
	if len(notifier.changes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.changes))
	}
}

func TestToggleReactionKeepsEmojisIndependent(t *testing.T) {
	service, store, _ := newReactionFixture()
	session := models.Session{UserID: 200, Role: models.RoleStudent}

	for _, emoji := range []string{"👍", "❤️", "👍"} {
		if _, err := service.ToggleReaction(context.Background(), session, 10, emoji); err != nil {
			t.Fatalf("toggle %q: %v", emoji, err)
		}
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected only the heart to remain, got %d rows", len(store.rows))
	}
	if _, ok := store.rows[reactionKey{messageID: 10, userID: 200, emoji: "❤️"}]; !ok {
		t.Fatalf("expected heart reaction to remain")
	}
}

func TestToggleReactionValidatesEmoji(t *testing.T) {
	service, _, _ := newReactionFixture()
	session := models.Session{UserID: 200, Role: models.RoleStudent}

	cases := []string{"", "   ", strings.Repeat("a", maxEmojiBytes+1), string([]byte{0xff, 0xfe})}
	for _, emoji := range cases {
		if _, err := service.ToggleReaction(context.Background(), session, 10, emoji); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("emoji %q: expected ErrInvalidInput, got %v", emoji, err)
		}
	}
}

func TestToggleReactionRejectsDeletedMessage(t *testing.T) {
	service, _, _ := newReactionFixture()

	_, err := service.ToggleReaction(context.Background(), models.Session{UserID: 200, Role: models.RoleStudent}, 12, "👍")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestToggleReactionRequiresMembership(t *testing.T) {
	service, store, _ := newReactionFixture()

	_, err := service.ToggleReaction(context.Background(), models.Session{UserID: 300, Role: models.RoleStudent}, 10, "👍")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("expected no rows")
	}
}
