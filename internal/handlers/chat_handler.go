package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/campuslife/CampusChat/internal/middleware"
	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/services"
	chatws "github.com/campuslife/CampusChat/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type chatApplicationService interface {
	IsMember(ctx context.Context, conversationID int64, userID int64) (bool, error)
	ListConversations(ctx context.Context, session models.Session) ([]models.ConversationSummary, error)
	CreateDirectConversation(ctx context.Context, session models.Session, peerID int64) (*models.Conversation, error)
	CreateGroup(ctx context.Context, session models.Session, input services.CreateGroupInput) (*models.Conversation, error)
	UpdateGroup(ctx context.Context, session models.Session, conversationID int64, input services.UpdateGroupInput) (*models.Conversation, error)
	ListMembers(ctx context.Context, session models.Session, conversationID int64) ([]models.ConversationMember, error)
	AddMember(ctx context.Context, session models.Session, conversationID int64, userID int64) error
	RemoveMember(ctx context.Context, session models.Session, conversationID int64, userID int64) error
	LeaveConversation(ctx context.Context, session models.Session, conversationID int64) error
	ListMessages(ctx context.Context, session models.Session, conversationID int64, page int, limit int) ([]models.ChatMessage, int, error)
	SendMessage(ctx context.Context, session models.Session, conversationID int64, content string, mediaURLs []string) (*models.ChatMessage, error)
	EditMessage(ctx context.Context, session models.Session, messageID int64, content string) (*models.ChatMessage, error)
	DeleteMessage(ctx context.Context, session models.Session, messageID int64) (*models.ChatMessage, error)
}

type receiptApplicationService interface {
	ListReceipts(ctx context.Context, session models.Session, conversationID int64) ([]models.ReadReceipt, error)
	MarkRead(ctx context.Context, session models.Session, messageID int64) (bool, error)
}

type reactionApplicationService interface {
	ListReactions(ctx context.Context, session models.Session, conversationID int64) ([]models.Reaction, error)
	ToggleReaction(ctx context.Context, session models.Session, messageID int64, emoji string) (bool, error)
}

type typingPublisher interface {
	Typing(ctx context.Context, status models.TypingStatus)
}

// WebSocketLimits bounds typing frames per connection.
type WebSocketLimits struct {
	TypingRate  float64
	TypingBurst int
}

type ChatHandler struct {
	service   chatApplicationService
	receipts  receiptApplicationService
	reactions reactionApplicationService
	hub       *chatws.Hub
	typing    typingPublisher
	limits    WebSocketLimits
	jwtSecret string
}

type createConversationRequest struct {
	PeerID int64 `json:"peer_id"`
}

type createGroupRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MemberIDs   []int64 `json:"member_ids"`
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type addMemberRequest struct {
	UserID int64 `json:"user_id"`
}

type sendMessageRequest struct {
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func NewChatHandler(
	service chatApplicationService,
	receipts receiptApplicationService,
	reactions reactionApplicationService,
	hub *chatws.Hub,
	typing typingPublisher,
	limits WebSocketLimits,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		service:   service,
		receipts:  receipts,
		reactions: reactions,
		hub:       hub,
		typing:    typing,
		limits:    limits,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversations, err := h.service.ListConversations(c.Context(), session)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	conversation, err := h.service.CreateDirectConversation(c.Context(), session, req.PeerID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) CreateGroup(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	conversation, err := h.service.CreateGroup(c.Context(), session, services.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) UpdateGroup(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req updateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	conversation, err := h.service.UpdateGroup(c.Context(), session, conversationID, services.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) ListMembers(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	members, err := h.service.ListMembers(c.Context(), session, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"members": members})
}

func (h *ChatHandler) AddMember(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := h.service.AddMember(c.Context(), session, conversationID, req.UserID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) RemoveMember(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	if err := h.service.RemoveMember(c.Context(), session, conversationID, userID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) LeaveConversation(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if err := h.service.LeaveConversation(c.Context(), session, conversationID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), session, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.SendMessage(c.Context(), session, conversationID, req.Content, req.MediaURLs)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) EditMessage(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	var req editMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.EditMessage(c.Context(), session, messageID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	message, err := h.service.DeleteMessage(c.Context(), session, messageID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	session, err := h.websocketSession(c)
	if errors.Is(err, middleware.ErrInvalidClaims) {
		return invalidToken(c)
	}
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	middleware.SetSession(c, session)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	session, err := sessionFromClaims(userID, role)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, session.UserID, h.limits.TypingRate, h.limits.TypingBurst)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(context.Background(), h.service, h.typing)
}

// websocketSession accepts the token from the query string, since browsers
// cannot set headers on an upgrade, and falls back to the bearer header.
func (h *ChatHandler) websocketSession(c *fiber.Ctx) (models.Session, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		var err error
		if token, err = middleware.BearerToken(c.Get("Authorization")); err != nil {
			return models.Session{}, err
		}
	}
	return middleware.Authenticate(token, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Conflict"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage service is not configured"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
