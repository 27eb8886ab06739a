// handlers/quizzes.go - Quiz authoring REST surface
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"partyquiz/game"
	"partyquiz/models"
	"partyquiz/protocol"
	"partyquiz/services"
)

// QuizHandlers serves quiz CRUD. Structural writes are refused with
// QUIZ_LOCKED while a non-archived session holds the quiz.
type QuizHandlers struct {
	quizzes *services.QuizDBService
	logger  *zap.Logger
}

// NewQuizHandlers wires the authoring handlers.
func NewQuizHandlers(quizzes *services.QuizDBService, logger *zap.Logger) *QuizHandlers {
	return &QuizHandlers{quizzes: quizzes, logger: logger.Named("authoring")}
}

type quizStructureRequest struct {
	Title           string           `json:"title"`
	Rounds          []models.Round   `json:"rounds"`
	ScoringSettings *scoringSettings `json:"scoring_settings,omitempty"`
}

type scoringSettings struct {
	StreakBonus         bool  `json:"streak_bonus"`
	StreakBonusPoints   int   `json:"streak_bonus_points"`
	SpeedPodium         bool  `json:"speed_podium"`
	SpeedPodiumPercents []int `json:"speed_podium_percents"`
}

func validateStructure(req *quizStructureRequest) string {
	if req.Title == "" {
		return "title is required"
	}
	for _, r := range req.Rounds {
		for _, it := range r.Items {
			switch it.Kind {
			case models.ItemKindQuestion:
				if it.Question == nil {
					return "question items need a question"
				}
			case models.ItemKindBreak, models.ItemKindScoreboard, models.ItemKindMinigame:
			default:
				return "unknown item kind: " + it.Kind
			}
			if it.TimerSeconds < 0 || it.BasePoints < 0 {
				return "timer and base points must be non-negative"
			}
		}
	}
	return ""
}

// CreateQuiz persists a new quiz with its full round/item structure.
func (h *QuizHandlers) CreateQuiz(c *fiber.Ctx) error {
	var req quizStructureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if msg := validateStructure(&req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	quiz := &models.Quiz{Title: req.Title, Rounds: req.Rounds}
	if req.ScoringSettings != nil {
		settings := models.ScoringSettings(*req.ScoringSettings)
		if len(settings.SpeedPodiumPercents) == 0 {
			settings.SpeedPodiumPercents = []int{30, 20, 10}
		}
		if err := quiz.SetScoringSettings(settings); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad scoring settings"})
		}
	}

	if err := h.quizzes.CreateQuiz(c.Context(), quiz); err != nil {
		h.logger.Error("quiz create failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not create quiz"})
	}
	return c.Status(fiber.StatusCreated).JSON(quiz)
}

// GetQuiz returns a quiz with its full structure plus its lock state.
func (h *QuizHandlers) GetQuiz(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad quiz id"})
	}

	quiz, err := h.quizzes.GetQuiz(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, game.ErrSessionUnavailable) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quiz not found"})
		}
		h.logger.Error("quiz load failed", zap.Int("quiz_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not load quiz"})
	}

	locked, err := h.quizzes.QuizLocked(c.Context(), quiz.ID)
	if err != nil {
		h.logger.Error("lock check failed", zap.Int("quiz_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lock check failed"})
	}

	return c.JSON(fiber.Map{"quiz": quiz, "locked": locked})
}

// UpdateQuiz replaces the quiz structure. Returns 409 QUIZ_LOCKED while any
// non-archived session references the quiz; archive those sessions first.
func (h *QuizHandlers) UpdateQuiz(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad quiz id"})
	}

	var req quizStructureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if msg := validateStructure(&req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	quiz, err := h.quizzes.ReplaceQuizStructure(c.Context(), uint(id), req.Title, req.Rounds)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrQuizLocked):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "quiz has live sessions; archive them first",
				"code":  protocol.ErrQuizLocked,
			})
		case errors.Is(err, game.ErrSessionUnavailable):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quiz not found"})
		default:
			h.logger.Error("quiz update failed", zap.Int("quiz_id", id), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not update quiz"})
		}
	}
	return c.JSON(quiz)
}

// ArchiveQuizSessions bulk-archives every session of a quiz so it can be
// edited again.
func (h *QuizHandlers) ArchiveQuizSessions(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad quiz id"})
	}

	n, err := h.quizzes.ArchiveSessionsForQuiz(c.Context(), uint(id))
	if err != nil {
		h.logger.Error("bulk archive failed", zap.Int("quiz_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "archive failed"})
	}
	return c.JSON(fiber.Map{"archived": n})
}
