package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidClaims  = errors.New("invalid token claims")
	errMalformedToken = errors.New("invalid authorization header format")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
		return "", errMalformedToken
	}
	return token, nil
}

// Authenticate validates token and returns the campus session it names.
func Authenticate(token, secret string) (models.Session, error) {
	claims, err := utils.ValidateToken(token, secret)
	if err != nil {
		return models.Session{}, err
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	session := models.Session{UserID: userID, Role: claims.Role}
	if err != nil || !session.Valid() {
		return models.Session{}, ErrInvalidClaims
	}
	return session, nil
}

// SetSession stores the session the way handlers read it back.
func SetSession(c *fiber.Ctx, session models.Session) {
	c.Locals("user_id", strconv.FormatInt(session.UserID, 10))
	c.Locals("role", session.Role)
}

// AuthRequired verifies the bearer token and stores the caller's user id and
// role as request locals.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := BearerToken(c.Get("Authorization"))
		switch {
		case errors.Is(err, ErrMissingToken):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		case err != nil:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid authorization header format"})
		}

		session, err := Authenticate(token, secret)
		switch {
		case errors.Is(err, ErrInvalidClaims):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token claims"})
		case err != nil:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
		}

		SetSession(c, session)
		return c.Next()
	}
}
