package services

import (
	"context"
	"errors"

	"github.com/campuslife/CampusChat/internal/models"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage service is not configured")
)

type changeNotifier interface {
	Changed(ctx context.Context, conversationID int64, table string)
}

type membershipNotifier interface {
	changeNotifier
	Revoked(ctx context.Context, conversationID int64, userID int64)
}

type membershipChecker interface {
	IsMember(ctx context.Context, conversationID int64, userID int64) (bool, error)
}

type messageReader interface {
	GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error)
}
