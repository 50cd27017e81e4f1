package main

import (
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/campuslife/CampusChat/internal/logging"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	zlog, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() {
		_ = zlog.Sync()
	}()

	if err := godotenv.Load(); err != nil {
		zlog.Info("no .env file found")
	}

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		zlog.Fatal("DB_URL environment variable is required")
	}

	migrationsPath, err := findMigrations()
	if err != nil {
		zlog.Fatal("locate migrations", zap.Error(err))
	}

	m, err := migrate.New("file://"+migrationsPath, dbURL)
	if err != nil {
		zlog.Fatal("open migrations", zap.Error(err))
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			zlog.Fatal("migration up", zap.Error(err))
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			zlog.Fatal("migration down", zap.Error(err))
		}
	default:
		zlog.Fatal("unknown command, expected up or down", zap.String("command", cmd))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		zlog.Fatal("read migration version", zap.Error(err))
	}
	zlog.Info("migration complete",
		zap.String("command", cmd),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
}

// findMigrations looks for a migrations directory next to the working
// directory or the executable, walking up a few parents.
func findMigrations() (string, error) {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		current := cwd
		for i := 0; i < 6; i++ {
			candidates = append(candidates, filepath.Join(current, "migrations"))
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
			filepath.Join(exeDir, "..", "..", "migrations"),
		)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("migrations directory not found")
}
