package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"treasure-map/server/internal/middleware"
	"treasure-map/server/internal/services/progress"
	progHandlers "treasure-map/server/internal/services/progress/handlers"
	"treasure-map/server/internal/services/session"
)

type SessionHandlers struct {
	sessionSvc  session.Service
	progressSvc progress.Service
	logger      *zap.Logger
}

func NewSessionHandlers(sessionSvc session.Service, progressSvc progress.Service, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{
		sessionSvc:  sessionSvc,
		progressSvc: progressSvc,
		logger:      logger,
	}
}

type CreateSessionRequest struct {
	DisplayName string `json:"display_name"`
}

type CreateSessionResponse struct {
	SessionID   string                        `json:"session_id"`
	DisplayName *string                       `json:"display_name,omitempty"`
	Token       string                        `json:"token"`
	ExpiresAt   string                        `json:"expires_at"`
	Progress    progHandlers.ProgressResponse `json:"progress"`
}

type SessionResponse struct {
	SessionID   string  `json:"session_id"`
	DisplayName *string `json:"display_name,omitempty"`
	Points      int64   `json:"points"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   string  `json:"expires_at"`
	EndedAt     *string `json:"ended_at,omitempty"`
}

// CreateSession handles POST /sessions
func (h *SessionHandlers) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Debug("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	sess, err := h.sessionSvc.CreateSession(c.Context(), req.DisplayName)
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	token, err := h.sessionSvc.GenerateToken(sess)
	if err != nil {
		h.logger.Error("Failed to generate session token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	snap, err := h.progressSvc.GetState(c.Context(), sess.SessionID)
	if err != nil {
		h.logger.Error("Failed to load initial progress", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(CreateSessionResponse{
		SessionID:   sess.SessionID,
		DisplayName: sess.DisplayName,
		Token:       token,
		ExpiresAt:   sess.ExpiresAt.Time.UTC().Format(time.RFC3339),
		Progress:    progHandlers.NewProgressResponse(h.progressSvc.Registry(), snap),
	})
}

// GetSession handles GET /sessions/me
func (h *SessionHandlers) GetSession(c *fiber.Ctx) error {
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	sess, err := h.sessionSvc.GetSession(c.Context(), sessionID)
	if err != nil {
		return h.errorResponse(c, err, "Failed to get session")
	}

	resp := SessionResponse{
		SessionID:   sess.SessionID,
		DisplayName: sess.DisplayName,
		Points:      sess.Points,
		CreatedAt:   sess.CreatedAt.Time.UTC().Format(time.RFC3339),
		ExpiresAt:   sess.ExpiresAt.Time.UTC().Format(time.RFC3339),
	}
	if sess.EndedAt.Valid {
		endedAt := sess.EndedAt.Time.UTC().Format(time.RFC3339)
		resp.EndedAt = &endedAt
	}
	return c.JSON(resp)
}

// EndSession handles DELETE /sessions/me
func (h *SessionHandlers) EndSession(c *fiber.Ctx) error {
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	if err := h.progressSvc.CloseSession(c.Context(), sessionID); err != nil {
		return h.errorResponse(c, err, "Failed to end session")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandlers) errorResponse(c *fiber.Ctx, err error, msg string) error {
	status, body := progHandlers.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		body = msg
	}
	return c.Status(status).JSON(fiber.Map{
		"error": body,
	})
}
