package chatws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/campuslife/CampusChat/internal/metrics"
	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/realtime"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1024
	clientSendSize = 64
)

// Hub delivers broker events to the websocket clients subscribed to the
// event's conversation. All topic bookkeeping happens on the Run goroutine.
type Hub struct {
	topics      map[int64]map[*Client]struct{}
	clients     map[*Client]struct{}
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	done        chan struct{}
	broker      realtime.Broker
	logger      *zap.Logger
}

type subscription struct {
	client         *Client
	conversationID int64
}

type Client struct {
	id      uuid.UUID
	hub     *Hub
	conn    *websocket.Conn
	userID  int64
	send    chan []byte
	limiter *rate.Limiter
	// topics is owned by the hub goroutine.
	topics map[int64]struct{}

	// subscribed is what the read pump authorizes typing frames against. The
	// hub clears entries when membership is revoked.
	mu         sync.Mutex
	subscribed map[int64]struct{}
}

type membershipChecker interface {
	IsMember(ctx context.Context, conversationID int64, userID int64) (bool, error)
}

type typingPublisher interface {
	Typing(ctx context.Context, status models.TypingStatus)
}

func NewHub(broker realtime.Broker, logger *zap.Logger) *Hub {
	return &Hub{
		topics:      make(map[int64]map[*Client]struct{}),
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		done:        make(chan struct{}),
		broker:      broker,
		logger:      logger,
	}
}

// NewClient wraps conn. typingRate and typingBurst bound how many typing
// frames the client may push per second.
func NewClient(hub *Hub, conn *websocket.Conn, userID int64, typingRate float64, typingBurst int) *Client {
	return &Client{
		id:      uuid.New(),
		hub:     hub,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, clientSendSize),
		limiter:    rate.NewLimiter(rate.Limit(typingRate), typingBurst),
		topics:     make(map[int64]struct{}),
		subscribed: make(map[int64]struct{}),
	}
}

// Run owns the hub state until ctx is cancelled. Registration calls made
// after Run returns are ignored.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.kick()
			}
			return nil
		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.LiveConnections.Inc()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			set, ok := h.topics[sub.conversationID]
			if !ok {
				set = make(map[*Client]struct{})
				h.topics[sub.conversationID] = set
			}
			set[sub.client] = struct{}{}
			sub.client.topics[sub.conversationID] = struct{}{}
		case sub := <-h.unsubscribe:
			h.leave(sub.client, sub.conversationID)
		case event, ok := <-events:
			if !ok {
				return nil
			}
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Subscribe(client *Client, conversationID int64) {
	select {
	case h.subscribe <- subscription{client: client, conversationID: conversationID}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(client *Client, conversationID int64) {
	select {
	case h.unsubscribe <- subscription{client: client, conversationID: conversationID}:
	case <-h.done:
	}
}

func (h *Hub) drop(client *Client) {
	for conversationID := range client.topics {
		h.leave(client, conversationID)
	}
	delete(h.clients, client)
	close(client.send)
	metrics.LiveConnections.Dec()
}

func (h *Hub) leave(client *Client, conversationID int64) {
	delete(client.topics, conversationID)
	set, ok := h.topics[conversationID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.topics, conversationID)
	}
}

func (h *Hub) deliver(event realtime.Event) {
	set, ok := h.topics[event.ConversationID]
	if !ok {
		return
	}
	if event.Type == realtime.TypeRevoked {
		h.revoke(set, event)
		return
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("chat hub encode event", zap.Error(err))
		return
	}

	for client := range set {
		// Typists do not need their own indicator echoed back.
		if event.Type == realtime.TypeTyping && event.UserID == client.userID {
			continue
		}
		select {
		case client.send <- encoded:
		default:
			h.logger.Warn("evicting slow websocket client",
				zap.String("client_id", client.id.String()),
				zap.Int64("user_id", client.userID),
			)
			h.evict(client)
		}
	}
}

// revoke drops the revoked user's clients from the conversation before any
// later event for it is delivered, and tells them so.
func (h *Hub) revoke(set map[*Client]struct{}, event realtime.Event) {
	for client := range set {
		if client.userID != event.UserID {
			continue
		}
		h.leave(client, event.ConversationID)
		client.forget(event.ConversationID)
		client.writeEvent(event)
		h.logger.Debug("websocket subscription revoked",
			zap.String("client_id", client.id.String()),
			zap.Int64("user_id", client.userID),
			zap.Int64("conversation_id", event.ConversationID),
		)
	}
}

// evict stops delivering to client and closes its connection. The send
// channel stays open until the read pump unregisters, since the read pump
// may still be writing replies into it.
func (h *Hub) evict(client *Client) {
	for conversationID := range client.topics {
		h.leave(client, conversationID)
	}
	client.kick()
}

// ReadPump handles client frames until the connection closes. Subscriptions
// are checked against conversation membership; typing frames are only
// relayed for conversations the client has subscribed to.
func (c *Client) ReadPump(ctx context.Context, members membershipChecker, typing typingPublisher) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var frame realtime.ClientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.writeError(0, "invalid frame payload")
			continue
		}
		if frame.ConversationID <= 0 {
			c.writeError(frame.ConversationID, "invalid conversation id")
			continue
		}

		switch frame.Type {
		case realtime.TypeSubscribe:
			ok, err := members.IsMember(ctx, frame.ConversationID, c.userID)
			if err != nil {
				c.writeError(frame.ConversationID, "failed to subscribe")
				continue
			}
			if !ok {
				c.writeError(frame.ConversationID, "not a member of this conversation")
				continue
			}
			c.remember(frame.ConversationID)
			c.hub.Subscribe(c, frame.ConversationID)
			c.writeEvent(realtime.Event{Type: realtime.TypeSubscribed, ConversationID: frame.ConversationID})
		case realtime.TypeUnsubscribe:
			c.forget(frame.ConversationID)
			c.hub.Unsubscribe(c, frame.ConversationID)
			c.writeEvent(realtime.Event{Type: realtime.TypeUnsubscribed, ConversationID: frame.ConversationID})
		case realtime.TypeTyping:
			if !c.isSubscribed(frame.ConversationID) {
				c.writeError(frame.ConversationID, "subscribe before sending typing status")
				continue
			}
			if !c.limiter.Allow() {
				continue
			}
			metrics.TypingRelayed.Inc()
			typing.Typing(ctx, models.TypingStatus{
				ConversationID: frame.ConversationID,
				UserID:         c.userID,
				IsTyping:       frame.IsTyping,
			})
		default:
			c.writeError(frame.ConversationID, "unsupported frame type")
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) remember(conversationID int64) {
	c.mu.Lock()
	c.subscribed[conversationID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) forget(conversationID int64) {
	c.mu.Lock()
	delete(c.subscribed, conversationID)
	c.mu.Unlock()
}

func (c *Client) isSubscribed(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[conversationID]
	return ok
}

func (c *Client) kick() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// writeEvent is called from the read goroutine and the hub; it never blocks
// on a full send buffer.
func (c *Client) writeEvent(event realtime.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writeError(conversationID int64, message string) {
	c.writeEvent(realtime.Event{Type: realtime.TypeError, ConversationID: conversationID, Error: message})
}
