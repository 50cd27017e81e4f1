// Package chatclient talks to the campus chat server: REST calls for
// conversations, messages, receipts and reactions, a websocket feed of change
// notifications, and a conversation view that keeps read state reconciled.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/pkg/transport"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

// Session is the signed-in user. Every call that acts on behalf of a user
// takes one explicitly.
type Session struct {
	Token       string
	UserID      int64
	Role        string
	DisplayName string
}

func (s Session) Valid() bool {
	return s.Token != "" && s.UserID > 0
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat server returned %d", e.Status)
	}
	return fmt.Sprintf("chat server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

var ErrNoSession = errors.New("chatclient: session is not signed in")

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the retrying default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    transport.NewClient(defaultRequestTimeout),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type authResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

type userPayload struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

func (r authResponse) session() Session {
	return Session{
		Token:       r.Token,
		UserID:      r.User.ID,
		Role:        r.User.Role,
		DisplayName: r.User.DisplayName,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, "", http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return Session{}, err
	}
	return resp.session(), nil
}

type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name"`
}

func (c *Client) Register(ctx context.Context, input RegisterInput) (Session, error) {
	var resp authResponse
	if err := c.doJSON(ctx, "", http.MethodPost, "/api/auth/register", input, &resp); err != nil {
		return Session{}, err
	}
	return resp.session(), nil
}

// SessionFromToken resolves a stored token into a session.
func (c *Client) SessionFromToken(ctx context.Context, token string) (Session, error) {
	var resp struct {
		User userPayload `json:"user"`
	}
	if err := c.doJSON(ctx, token, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return Session{}, err
	}
	return authResponse{Token: token, User: resp.User}.session(), nil
}

func (c *Client) ListConversations(ctx context.Context, s Session) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.authed(ctx, s, http.MethodGet, "/api/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) CreateDirect(ctx context.Context, s Session, peerID int64) (*models.Conversation, error) {
	var resp struct {
		Conversation *models.Conversation `json:"conversation"`
	}
	body := map[string]int64{"peer_id": peerID}
	if err := c.authed(ctx, s, http.MethodPost, "/api/v1/conversations", body, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

type CreateGroupInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MemberIDs   []int64 `json:"member_ids"`
}

func (c *Client) CreateGroup(ctx context.Context, s Session, input CreateGroupInput) (*models.Conversation, error) {
	var resp struct {
		Conversation *models.Conversation `json:"conversation"`
	}
	if err := c.authed(ctx, s, http.MethodPost, "/api/v1/conversations/groups", input, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

// ListMessages returns the newest limit messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, s Session, conversationID int64, limit int) ([]models.ChatMessage, error) {
	query := url.Values{}
	query.Set("page", "1")
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/messages?%s", conversationID, query.Encode())

	var resp struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := c.authed(ctx, s, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, s Session, conversationID int64, content string, mediaURLs []string) (*models.ChatMessage, error) {
	var resp struct {
		Message *models.ChatMessage `json:"message"`
	}
	body := map[string]any{"content": content, "media_urls": mediaURLs}
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := c.authed(ctx, s, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) EditMessage(ctx context.Context, s Session, messageID int64, content string) (*models.ChatMessage, error) {
	var resp struct {
		Message *models.ChatMessage `json:"message"`
	}
	body := map[string]string{"content": content}
	if err := c.authed(ctx, s, http.MethodPatch, fmt.Sprintf("/api/v1/messages/%d", messageID), body, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) DeleteMessage(ctx context.Context, s Session, messageID int64) error {
	return c.authed(ctx, s, http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d", messageID), nil, nil)
}

// UploadMedia stores an image and returns its URL for use in SendMessage.
func (c *Client) UploadMedia(ctx context.Context, s Session, filename string, content io.Reader) (string, error) {
	if !s.Valid() {
		return "", ErrNoSession
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	payload := buf.Bytes()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/media", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.Token)

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) ListReceipts(ctx context.Context, s Session, conversationID int64) ([]models.ReadReceipt, error) {
	var resp struct {
		Receipts []models.ReadReceipt `json:"receipts"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/receipts", conversationID)
	if err := c.authed(ctx, s, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

// MarkRead records that the session user has seen messageID. A receipt that
// already exists is not an error.
func (c *Client) MarkRead(ctx context.Context, s Session, messageID int64) error {
	return c.authed(ctx, s, http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/read", messageID), nil, nil)
}

func (c *Client) ListReactions(ctx context.Context, s Session, conversationID int64) ([]models.Reaction, error) {
	var resp struct {
		Reactions []models.Reaction `json:"reactions"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/reactions", conversationID)
	if err := c.authed(ctx, s, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reactions, nil
}

// ToggleReaction adds the reaction if absent and removes it otherwise. It
// returns whether the reaction is present afterwards.
func (c *Client) ToggleReaction(ctx context.Context, s Session, messageID int64, emoji string) (bool, error) {
	var resp struct {
		Added bool `json:"added"`
	}
	body := map[string]string{"emoji": emoji}
	if err := c.authed(ctx, s, http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/reactions", messageID), body, &resp); err != nil {
		return false, err
	}
	return resp.Added, nil
}

func (c *Client) authed(ctx context.Context, s Session, method, path string, body, out any) error {
	if !s.Valid() {
		return ErrNoSession
	}
	return c.doJSON(ctx, s.Token, method, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
		c.logger.Debug("chat request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
