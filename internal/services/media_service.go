package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/google/uuid"
)

const MaxMediaSizeBytes = 10 << 20

var allowedMediaExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
}

type MediaService struct {
	store MediaStore
}

type UploadMediaInput struct {
	File     multipart.File
	Filename string
	Size     int64
}

func NewMediaService(store MediaStore) *MediaService {
	return &MediaService{store: store}
}

// Upload stores an image attachment and returns its public URL. The URL is
// attached to a message by a later send.
func (s *MediaService) Upload(ctx context.Context, session models.Session, input UploadMediaInput) (string, error) {
	if s.store == nil {
		return "", ErrStorageUnavailable
	}
	if !session.Valid() {
		return "", ErrForbidden
	}
	if input.File == nil || input.Size <= 0 {
		return "", ErrInvalidInput
	}
	if input.Size > MaxMediaSizeBytes {
		return "", fmt.Errorf("%w: file exceeds 10MB limit", ErrInvalidInput)
	}

	ext := strings.ToLower(filepath.Ext(input.Filename))
	if _, ok := allowedMediaExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: unsupported file type", ErrInvalidInput)
	}

	key := fmt.Sprintf("chat/%d/%s%s", session.UserID, uuid.NewString(), ext)
	return s.store.Put(ctx, key, input.File)
}
