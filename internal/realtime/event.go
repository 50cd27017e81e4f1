package realtime

import "time"

// Frame types exchanged over the chat websocket and the broker.
const (
	TypeChange       = "change"
	TypeTyping       = "typing"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	// TypeRevoked tells UserID's connections that they lost access to the
	// conversation. It is never delivered to other members.
	TypeRevoked = "revoked"
)

// Event is both the broker payload and the server-to-client frame. A change
// event names the table that moved; receivers refetch rather than apply it.
type Event struct {
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	Table          string    `json:"table,omitempty"`
	UserID         int64     `json:"user_id,omitempty"`
	IsTyping       bool      `json:"is_typing,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ClientFrame is what a websocket client may send.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing,omitempty"`
}
