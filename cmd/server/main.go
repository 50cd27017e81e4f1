package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuslife/CampusChat/internal/config"
	"github.com/campuslife/CampusChat/internal/database"
	"github.com/campuslife/CampusChat/internal/logging"
	"github.com/campuslife/CampusChat/internal/realtime"
	"github.com/campuslife/CampusChat/internal/routes"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, envFileLoaded, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() {
		_ = zlog.Sync()
	}()
	if !envFileLoaded {
		zlog.Info("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		zlog.Fatal("DB_URL is required")
	}
	db, err := database.Connect(ctx, cfg.DBUrl, database.PoolOptions{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	}, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 3. Realtime fan-out
	var broker realtime.Broker
	if cfg.RedisEnabled() {
		rdb, err := database.ConnectRedis(ctx, cfg.RedisURL, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		broker = realtime.NewRedisBroker(rdb, zlog)
	} else {
		zlog.Info("REDIS_URL not set, realtime events stay in this process")
		broker = realtime.NewLocalBroker(zlog)
	}

	// 4. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	routes.RegisterRoutes(ctx, app, cfg, db, broker, zlog)

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			zlog.Error("server shutdown", zap.Error(err))
		}
	}()

	// 5. Start Server
	zlog.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zlog.Fatal("server failed to start", zap.Error(err))
	}
}
