package routes

import (
	"context"
	"time"

	"github.com/campuslife/CampusChat/internal/config"
	"github.com/campuslife/CampusChat/internal/handlers"
	"github.com/campuslife/CampusChat/internal/middleware"
	"github.com/campuslife/CampusChat/internal/realtime"
	"github.com/campuslife/CampusChat/internal/repository"
	"github.com/campuslife/CampusChat/internal/services"
	chatws "github.com/campuslife/CampusChat/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// RegisterRoutes wires repositories, services and handlers onto app. The chat
// hub runs until ctx is cancelled.
func RegisterRoutes(
	ctx context.Context,
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	broker realtime.Broker,
	logger *zap.Logger,
) {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)
	reactionRepo := repository.NewReactionRepository(db)
	// A nil interface, not a nil pointer, marks storage as unavailable.
	var mediaStore services.MediaStore
	if cfg.StorageEnabled() {
		mediaStore = services.NewSupabaseMediaStore(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	}

	notifier := realtime.NewNotifier(broker, logger)
	chatHub := chatws.NewHub(broker, logger)
	go func() {
		if err := chatHub.Run(ctx); err != nil {
			logger.Error("chat hub stopped", zap.Error(err))
		}
	}()

	chatService := services.NewChatService(db, conversationRepo, messageRepo, userRepo, notifier, mediaStore)
	receiptService := services.NewReceiptService(receiptRepo, messageRepo, chatService, notifier)
	reactionService := services.NewReactionService(reactionRepo, messageRepo, chatService, notifier)
	mediaService := services.NewMediaService(mediaStore)

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	mediaHandler := handlers.NewMediaHandler(mediaService)
	chatHandler := handlers.NewChatHandler(
		chatService,
		receiptService,
		reactionService,
		chatHub,
		notifier,
		handlers.WebSocketLimits{TypingRate: cfg.TypingRate, TypingBurst: cfg.TypingBurst},
		cfg.JWTSecret,
	)

	app.Get("/health", func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(c.Context(), healthTimeout)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	// The websocket route authenticates from the query string, so it is
	// registered before the bearer-token group claims /v1.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	authProtected.Post("/media", mediaHandler.Upload)

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Post("/groups", chatHandler.CreateGroup)
	conversations.Patch("/:id", chatHandler.UpdateGroup)
	conversations.Get("/:id/members", chatHandler.ListMembers)
	conversations.Post("/:id/members", chatHandler.AddMember)
	conversations.Delete("/:id/members/:userId", chatHandler.RemoveMember)
	conversations.Post("/:id/leave", chatHandler.LeaveConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Get("/:id/receipts", chatHandler.ListReceipts)
	conversations.Get("/:id/reactions", chatHandler.ListReactions)

	messages := authProtected.Group("/messages")
	messages.Patch("/:id", chatHandler.EditMessage)
	messages.Delete("/:id", chatHandler.DeleteMessage)
	messages.Post("/:id/read", chatHandler.MarkRead)
	messages.Post("/:id/reactions", chatHandler.ToggleReaction)
}
