package handlers

import (
	"context"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/services"
	"github.com/gofiber/fiber/v2"
)

type mediaApplicationService interface {
	Upload(ctx context.Context, session models.Session, input services.UploadMediaInput) (string, error)
}

type MediaHandler struct {
	service mediaApplicationService
}

func NewMediaHandler(service mediaApplicationService) *MediaHandler {
	return &MediaHandler{service: service}
}

func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	if fileHeader.Size <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is empty"})
	}
	if fileHeader.Size > services.MaxMediaSizeBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file exceeds 10MB limit"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to open file"})
	}
	defer file.Close()

	url, err := h.service.Upload(c.Context(), session, services.UploadMediaInput{
		File:     file,
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}
