package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/campuslife/CampusChat/internal/realtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedWriteWait      = 5 * time.Second
	feedListenerBuffer = 64
)

// ErrFeedClosed is reported once the websocket feed has gone away. The feed
// does not reconnect.
var ErrFeedClosed = errors.New("chatclient: feed closed")

// EventFeed is the change-notification channel a View listens on.
type EventFeed interface {
	Listen(conversationID int64) (<-chan realtime.Event, func())
	Subscribe(ctx context.Context, conversationID int64) error
	Unsubscribe(ctx context.Context, conversationID int64) error
	SendTyping(ctx context.Context, conversationID int64, typing bool) error
}

// Feed is one websocket connection to the chat server. Server frames are
// routed to listeners by conversation id.
type Feed struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[int64]map[*listener]struct{}
	closed    bool
	err       error
	done      chan struct{}
}

type listener struct {
	events chan realtime.Event
	once   sync.Once
}

func (l *listener) close() {
	l.once.Do(func() { close(l.events) })
}

// DialFeed opens the websocket feed for s.
func (c *Client) DialFeed(ctx context.Context, s Session) (*Feed, error) {
	if !s.Valid() {
		return nil, ErrNoSession
	}
	endpoint, err := feedURL(c.baseURL, s.Token)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket upgrade rejected"}
		}
		return nil, fmt.Errorf("dial chat feed: %w", err)
	}
	return NewFeed(conn, c.logger), nil
}

func feedURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// NewFeed takes ownership of conn and starts reading from it.
func NewFeed(conn *websocket.Conn, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		conn:      conn,
		logger:    logger,
		listeners: make(map[int64]map[*listener]struct{}),
		done:      make(chan struct{}),
	}
	go f.readLoop()
	return f
}

// Listen returns the events for conversationID until stop is called or the
// feed closes, whichever is first; the channel is then closed. A listener
// that falls behind loses events.
func (f *Feed) Listen(conversationID int64) (<-chan realtime.Event, func()) {
	l := &listener{events: make(chan realtime.Event, feedListenerBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		l.close()
		return l.events, func() {}
	}
	set, ok := f.listeners[conversationID]
	if !ok {
		set = make(map[*listener]struct{})
		f.listeners[conversationID] = set
	}
	set[l] = struct{}{}
	f.mu.Unlock()

	stop := func() {
		f.mu.Lock()
		if set, ok := f.listeners[conversationID]; ok {
			delete(set, l)
			if len(set) == 0 {
				delete(f.listeners, conversationID)
			}
		}
		f.mu.Unlock()
		l.close()
	}
	return l.events, stop
}

func (f *Feed) Subscribe(ctx context.Context, conversationID int64) error {
	return f.write(ctx, realtime.ClientFrame{Type: realtime.TypeSubscribe, ConversationID: conversationID})
}

func (f *Feed) Unsubscribe(ctx context.Context, conversationID int64) error {
	return f.write(ctx, realtime.ClientFrame{Type: realtime.TypeUnsubscribe, ConversationID: conversationID})
}

func (f *Feed) SendTyping(ctx context.Context, conversationID int64, typing bool) error {
	return f.write(ctx, realtime.ClientFrame{
		Type:           realtime.TypeTyping,
		ConversationID: conversationID,
		IsTyping:       typing,
	})
}

// Done is closed when the feed stops reading.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Err returns ErrFeedClosed, wrapping the read error if any, once Done is
// closed.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed) Close() error {
	f.writeMu.Lock()
	_ = f.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(feedWriteWait),
	)
	f.writeMu.Unlock()

	err := f.conn.Close()
	<-f.done
	return err
}

func (f *Feed) write(ctx context.Context, frame realtime.ClientFrame) error {
	select {
	case <-f.done:
		return ErrFeedClosed
	default:
	}

	deadline := time.Now().Add(feedWriteWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = f.conn.SetWriteDeadline(deadline)
	return f.conn.WriteJSON(frame)
}

func (f *Feed) readLoop() {
	var readErr error
	defer func() {
		f.shutdown(readErr)
	}()

	for {
		_, payload, err := f.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var event realtime.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			f.logger.Debug("ignoring malformed feed frame", zap.Error(err))
			continue
		}
		if event.Type == realtime.TypeError {
			f.logger.Debug("chat server rejected frame",
				zap.Int64("conversation_id", event.ConversationID),
				zap.String("error", event.Error),
			)
		}
		f.route(event)
	}
}

func (f *Feed) route(event realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for l := range f.listeners[event.ConversationID] {
		select {
		case l.events <- event:
		default:
			f.logger.Debug("feed listener full, dropping event",
				zap.Int64("conversation_id", event.ConversationID),
				zap.String("type", event.Type),
			)
		}
	}
}

func (f *Feed) shutdown(readErr error) {
	f.mu.Lock()
	f.closed = true
	f.err = ErrFeedClosed
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		f.err = fmt.Errorf("%w: %v", ErrFeedClosed, readErr)
	}
	for _, set := range f.listeners {
		for l := range set {
			l.close()
		}
	}
	f.listeners = make(map[int64]map[*listener]struct{})
	f.mu.Unlock()

	close(f.done)
}
