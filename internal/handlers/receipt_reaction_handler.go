package handlers

import (
	"github.com/gofiber/fiber/v2"
)

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *ChatHandler) ListReceipts(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	receipts, err := h.receipts.ListReceipts(c.Context(), session, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"receipts": receipts})
}

// MarkRead answers 201 when a receipt was recorded and 200 when the message
// had already been read by the caller.
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	created, err := h.receipts.MarkRead(c.Context(), session, messageID)
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"created": created})
}

func (h *ChatHandler) ListReactions(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	reactions, err := h.reactions.ListReactions(c.Context(), session, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"reactions": reactions})
}

func (h *ChatHandler) ToggleReaction(c *fiber.Ctx) error {
	session, err := currentSession(c)
	if err != nil {
		return invalidToken(c)
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	var req toggleReactionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	added, err := h.reactions.ToggleReaction(c.Context(), session, messageID, req.Emoji)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"added": added})
}
