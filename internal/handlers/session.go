package handlers

import (
	"strconv"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/gofiber/fiber/v2"
)

// currentSession rebuilds the caller's session from the values the auth
// middleware stored on the request.
func currentSession(c *fiber.Ctx) (models.Session, error) {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("role").(string)
	return sessionFromClaims(userID, role)
}

func sessionFromClaims(userIDStr string, role string) (models.Session, error) {
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return models.Session{}, err
	}

	session := models.Session{UserID: userID, Role: role}
	if !session.Valid() {
		return models.Session{}, strconv.ErrSyntax
	}
	return session, nil
}

func parseIDParam(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func invalidToken(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
}
