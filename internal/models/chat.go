package models

import "time"

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"

	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Change notification table names.
const (
	TableMessages      = "messages"
	TableReadReceipts  = "message_read_receipts"
	TableReactions     = "message_reactions"
	TableConversations = "conversations"
	TableMembers       = "conversation_members"
)

type Conversation struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name,omitempty"`
	Description   string     `json:"description,omitempty"`
	CreatedBy     int64      `json:"created_by"`
	LastMessageID *int64     `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *Conversation) IsGroup() bool {
	return c != nil && c.Kind == ConversationGroup
}

type ConversationMember struct {
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Role           string    `json:"role"`
	DisplayName    string    `json:"display_name,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (m *ConversationMember) IsAdmin() bool {
	return m != nil && m.Role == MemberRoleAdmin
}

type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	MediaURLs      []string  `json:"media_urls"`
	IsEdited       bool      `json:"is_edited"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ConversationSummary struct {
	Conversation
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

// ReadReceipt marks that ReaderID has seen MessageID. At most one exists per pair.
type ReadReceipt struct {
	MessageID int64     `json:"message_id"`
	ReaderID  int64     `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionSummary is the per-emoji view of a message's reactions.
type ReactionSummary struct {
	Emoji       string  `json:"emoji"`
	Count       int     `json:"count"`
	ReactedByMe bool    `json:"reacted_by_me"`
	Users       []int64 `json:"users"`
}

// TypingStatus is relayed to subscribers and never stored.
type TypingStatus struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}
