package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"treasure-map/server/internal/services/session"
)

const (
	// SessionIDKey is the key used to store the learner session id in Fiber's locals.
	SessionIDKey = "session_id"
	// ClaimsKey is the key used to store JWT claims in Fiber's locals.
	ClaimsKey = "claims"
)

var (
	// ErrMissingToken indicates the Authorization header is missing or malformed.
	ErrMissingToken = errors.New("missing or malformed authorization header")
	// ErrInvalidToken indicates the token is invalid or expired.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// SessionMiddleware validates the Bearer session token and stores the
// session id for downstream handlers. Whether the session is still active
// is decided by the services.
func SessionMiddleware(sessions session.Service, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			logger.Debug("missing Authorization header")
			return unauthorized(c, ErrMissingToken)
		}

		scheme, tokenString, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || tokenString == "" || strings.Contains(tokenString, " ") {
			logger.Debug("malformed Authorization header")
			return unauthorized(c, ErrMissingToken)
		}

		claims, err := sessions.ValidateToken(tokenString)
		if err != nil {
			logger.Debug("token validation failed", zap.Error(err))
			return unauthorized(c, ErrInvalidToken)
		}

		c.Locals(SessionIDKey, claims.Subject)
		c.Locals(ClaimsKey, claims)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// GetSessionID retrieves the session id from Fiber's locals.
func GetSessionID(c *fiber.Ctx) (string, bool) {
	sessionID, ok := c.Locals(SessionIDKey).(string)
	return sessionID, ok && sessionID != ""
}

// GetClaims retrieves JWT claims from Fiber's locals.
func GetClaims(c *fiber.Ctx) (*jwt.RegisteredClaims, bool) {
	claims, ok := c.Locals(ClaimsKey).(*jwt.RegisteredClaims)
	return claims, ok
}
