// handlers/sessions.go - REST surface: session creation, lookup, health
package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"partyquiz/game"
	"partyquiz/middleware"
	"partyquiz/services"
)

// SessionHandlers carries the REST dependencies.
type SessionHandlers struct {
	store   *services.SessionDBService
	quizzes *services.QuizDBService
	manager *game.Manager
	hub     *game.Hub
	logger  *zap.Logger
}

// NewSessionHandlers wires the REST handlers.
func NewSessionHandlers(store *services.SessionDBService, quizzes *services.QuizDBService, manager *game.Manager, hub *game.Hub, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{store: store, quizzes: quizzes, manager: manager, hub: hub, logger: logger.Named("http")}
}

type createSessionRequest struct {
	QuizID uint `json:"quiz_id"`
}

// CreateSession starts a live session from a quiz: snapshot, join code,
// owner token, actor registration.
func (h *SessionHandlers) CreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil || req.QuizID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quiz_id is required"})
	}

	quiz, err := h.quizzes.GetQuiz(c.Context(), req.QuizID)
	if err != nil {
		if errors.Is(err, game.ErrSessionUnavailable) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quiz not found"})
		}
		h.logger.Error("quiz load failed", zap.Uint("quiz_id", req.QuizID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not load quiz"})
	}
	if quiz.ItemCount() == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quiz has no items"})
	}

	code, err := h.manager.AllocateCode()
	if err != nil {
		h.logger.Error("code allocation failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no join codes available"})
	}

	sessionID := uuid.New().String()
	ownerToken, err := middleware.IssueHostToken(sessionID)
	if err != nil {
		h.logger.Error("owner token issue failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not issue owner token"})
	}

	row, err := h.store.CreateSession(c.Context(), quiz, code, sessionID, ownerToken)
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not create session"})
	}

	if _, err := h.manager.Add(row, nil, nil); err != nil {
		h.logger.Error("session registration failed", zap.String("code", code), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not start session"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id":  row.SessionID,
		"code":        row.Code,
		"owner_token": ownerToken,
		"quiz_id":     quiz.ID,
		"quiz_title":  quiz.Title,
		"created_at":  row.CreatedAt,
	})
}

// GetSessionByCode returns public session metadata, or 410 Gone once the
// session is archived or ended.
func (h *SessionHandlers) GetSessionByCode(c *fiber.Ctx) error {
	code := strings.ToUpper(c.Params("code"))
	if !game.ValidJoinCode(code) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed join code"})
	}

	row, err := h.store.SessionByCode(c.Context(), code)
	if err != nil {
		if errors.Is(err, game.ErrSessionUnavailable) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no session for that code"})
		}
		h.logger.Error("session lookup failed", zap.String("code", code), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	if !row.IsActive() {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "session is over"})
	}

	playerCount := 0
	if _, live := h.manager.Get(code); live {
		playerCount = h.hub.Room(code).ConnCount()
	}

	return c.JSON(fiber.Map{
		"session_id":   row.SessionID,
		"code":         row.Code,
		"state":        row.State,
		"player_count": playerCount,
		"created_at":   row.CreatedAt,
	})
}

// ArchiveSession releases the quiz lock for an ended or abandoned session.
// Requires the owner token (HostAuthMiddleware).
func (h *SessionHandlers) ArchiveSession(c *fiber.Ctx) error {
	sessionID, _ := c.Locals("sessionId").(string)
	if sessionID == "" || sessionID != c.Params("id") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "token does not match session"})
	}

	if err := h.store.ArchiveSession(c.Context(), sessionID); err != nil {
		h.logger.Error("archive failed", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "archive failed"})
	}
	return c.JSON(fiber.Map{"archived": true})
}

// Healthz reports liveness of the store and the realtime registry.
func (h *SessionHandlers) Healthz(c *fiber.Ctx) error {
	if err := h.store.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"store":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": h.manager.Count(),
		"rooms":    h.hub.RoomCount(),
		"time":     time.Now().UTC(),
	})
}

// DebugSessions lists live sessions (read-only, for operators).
func (h *SessionHandlers) DebugSessions(c *fiber.Ctx) error {
	codes := h.manager.Codes()
	out := make([]fiber.Map, 0, len(codes))
	for _, code := range codes {
		out = append(out, fiber.Map{
			"code":  code,
			"conns": h.hub.Room(code).ConnCount(),
		})
	}
	return c.JSON(fiber.Map{"sessions": out, "count": len(out)})
}
