package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"treasure-map/server/internal/middleware"
	"treasure-map/server/internal/quest"
	"treasure-map/server/internal/services/progress"
	"treasure-map/server/internal/services/session"
)

type ProgressHandlers struct {
	progressSvc progress.Service
	logger      *zap.Logger
}

func NewProgressHandlers(progressSvc progress.Service, logger *zap.Logger) *ProgressHandlers {
	return &ProgressHandlers{
		progressSvc: progressSvc,
		logger:      logger,
	}
}

// CatalogResponse is the quest map as authored.
type CatalogResponse struct {
	Quests  []quest.Quest  `json:"quests"`
	Rewards []quest.Reward `json:"rewards"`
}

// QuestProgressResponse is one quest's progress for the current learner.
type QuestProgressResponse struct {
	QuestID     string         `json:"quest_id"`
	Title       string         `json:"title"`
	Island      string         `json:"island,omitempty"`
	Status      quest.Status   `json:"status"`
	Repeatable  bool           `json:"repeatable"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Completions int            `json:"completions"`
	Payload     *quest.Payload `json:"payload,omitempty"`
}

// ProgressResponse is a learner's full progress at one store version.
type ProgressResponse struct {
	SessionID string                  `json:"session_id"`
	Version   uint64                  `json:"version"`
	Points    int64                   `json:"points"`
	Rewards   []string                `json:"rewards"`
	Quests    []QuestProgressResponse `json:"quests"`
}

// ChangeResponse reports the outcome of a start or completion request.
type ChangeResponse struct {
	Change        quest.ChangeKind `json:"change"`
	QuestID       string           `json:"quest_id"`
	Version       uint64           `json:"version"`
	Passed        bool             `json:"passed"`
	Status        quest.Status     `json:"status"`
	Unlocked      []string         `json:"unlocked"`
	Granted       []string         `json:"granted"`
	PointsAwarded int64            `json:"points_awarded"`
	Points        int64            `json:"points"`
}

// CompleteQuestRequest is the payload reported when a quiz or challenge ends.
type CompleteQuestRequest struct {
	Score    int             `json:"score"`
	MaxScore int             `json:"max_score"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

type EventResponse struct {
	ID            int64            `json:"id"`
	Version       uint64           `json:"version"`
	Change        quest.ChangeKind `json:"change"`
	QuestID       string           `json:"quest_id"`
	Unlocked      []string         `json:"unlocked"`
	Granted       []string         `json:"granted"`
	PointsAwarded int64            `json:"points_awarded"`
	CreatedAt     string           `json:"created_at"`
}

// NewProgressResponse renders a snapshot with quests in registry order.
func NewProgressResponse(reg *quest.Registry, snap *progress.Snapshot) ProgressResponse {
	quests := reg.Quests()
	resp := ProgressResponse{
		SessionID: snap.SessionID,
		Version:   snap.Version,
		Points:    snap.State.Points,
		Rewards:   append([]string{}, snap.State.Rewards...),
		Quests:    make([]QuestProgressResponse, 0, len(quests)),
	}
	for _, q := range quests {
		rec := snap.State.Quests[q.ID]
		resp.Quests = append(resp.Quests, QuestProgressResponse{
			QuestID:     q.ID,
			Title:       q.Title,
			Island:      q.Island,
			Status:      rec.Status,
			Repeatable:  q.Repeatable,
			StartedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
			Completions: rec.Completions,
			Payload:     rec.Payload,
		})
	}
	return resp
}

func newChangeResponse(c quest.Change) ChangeResponse {
	return ChangeResponse{
		Change:        c.Kind,
		QuestID:       c.QuestID,
		Version:       c.Version,
		Passed:        c.Passed,
		Status:        c.State.Status(c.QuestID),
		Unlocked:      nonNil(c.Unlocked),
		Granted:       nonNil(c.Granted),
		PointsAwarded: c.PointsAwarded,
		Points:        c.State.Points,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// GetCatalog handles GET /quests
func (h *ProgressHandlers) GetCatalog(c *fiber.Ctx) error {
	reg := h.progressSvc.Registry()
	return c.JSON(CatalogResponse{
		Quests:  reg.Quests(),
		Rewards: reg.Rewards(),
	})
}

// GetProgress handles GET /progress
func (h *ProgressHandlers) GetProgress(c *fiber.Ctx) error {
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	snap, err := h.progressSvc.GetState(c.Context(), sessionID)
	if err != nil {
		return h.errorResponse(c, err, "Failed to get progress")
	}
	return c.JSON(NewProgressResponse(h.progressSvc.Registry(), snap))
}

// StartQuest handles POST /progress/quests/:id/start
func (h *ProgressHandlers) StartQuest(c *fiber.Ctx) error {
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	change, err := h.progressSvc.StartQuest(c.Context(), sessionID, c.Params("id"))
	if err != nil {
		return h.errorResponse(c, err, "Failed to start quest")
	}
	return c.JSON(newChangeResponse(change))
}

// CompleteQuest handles POST /progress/quests/:id/complete
func (h *ProgressHandlers) CompleteQuest(c *fiber.Ctx) error {
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	// An empty body is an empty payload, enough for criteria of kind none.
	var req CompleteQuestRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Debug("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	payload := quest.Payload{
		Score:    req.Score,
		MaxScore: req.MaxScore,
		Flags:    req.Flags,
	}
	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	change, err := h.progressSvc.RecordCompletion(c.Context(), sessionID, c.Params("id"), payload)
	if err != nil {
		return h.errorResponse(c, err, "Failed to record completion")
	}
	return c.JSON(newChangeResponse(change))
}

// ListEvents handles GET /progress/events
func (h *ProgressHandlers) ListEvents(c *fiber.Ctx) error {
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	limit := progress.DefaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	events, err := h.progressSvc.ListEvents(c.Context(), sessionID, limit)
	if err != nil {
		return h.errorResponse(c, err, "Failed to list progress events")
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, EventResponse{
			ID:            e.ID,
			Version:       e.Version,
			Change:        e.Kind,
			QuestID:       e.QuestID,
			Unlocked:      nonNil(e.Unlocked),
			Granted:       nonNil(e.Granted),
			PointsAwarded: e.PointsAwarded,
			CreatedAt:     e.At.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{
		"events": resp,
	})
}

func (h *ProgressHandlers) errorResponse(c *fiber.Ctx, err error, msg string) error {
	status, body := StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		body = msg
	}
	return c.Status(status).JSON(fiber.Map{
		"error": body,
	})
}

// StatusFor maps progress and session errors to an HTTP status and a
// client-facing message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, quest.ErrUnknownQuest):
		return fiber.StatusNotFound, "quest not found"
	case errors.Is(err, quest.ErrInvalidTransition):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, quest.ErrInvalidPayload):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrSessionNotFound):
		return fiber.StatusNotFound, session.ErrSessionNotFound.Error()
	case errors.Is(err, session.ErrSessionEnded), errors.Is(err, quest.ErrStoreClosed):
		return fiber.StatusGone, session.ErrSessionEnded.Error()
	case errors.Is(err, session.ErrSessionExpired):
		return fiber.StatusGone, session.ErrSessionExpired.Error()
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}
