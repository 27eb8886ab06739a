// services/store.go - Durable store behind the session actors
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"partyquiz/database"
	"partyquiz/game"
	"partyquiz/models"
)

// Transient store errors are retried with exponential backoff before the
// session degrades.
const (
	storeRetryAttempts = 5
	storeRetryBase     = 100 * time.Millisecond
)

// SessionDBService implements game.Store over the shared gorm handle and
// carries the session/quiz queries the HTTP surface needs.
type SessionDBService struct{}

// NewSessionDBService creates the store service.
func NewSessionDBService() *SessionDBService {
	return &SessionDBService{}
}

// withRetry runs op up to storeRetryAttempts times. Constraint violations
// and context cancellation are never retried.
func withRetry(ctx context.Context, op func(*gorm.DB) error) error {
	db := database.GetDB()

	var err error
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := storeRetryBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(db.WithContext(ctx)); err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, context.Canceled) {
			return err
		}
	}
	return fmt.Errorf("store operation failed after %d attempts: %w", storeRetryAttempts, err)
}

// CreatePlayer inserts a player row. A duplicate folded name within the
// session maps to NameTaken.
func (s *SessionDBService) CreatePlayer(ctx context.Context, p *models.SessionPlayer) error {
	err := withRetry(ctx, func(db *gorm.DB) error {
		return db.Create(p).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("player %q: %w", p.Name, game.ErrNameTaken)
	}
	return err
}

// AppendAnswer inserts an answer row. The (player, item) unique index is the
// durable at-most-one-answer guarantee; violations map to AlreadyAnswered.
func (s *SessionDBService) AppendAnswer(ctx context.Context, a *models.SessionAnswer) error {
	err := withRetry(ctx, func(db *gorm.DB) error {
		return db.Create(a).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("item %d: %w", a.ItemID, game.ErrAlreadyAnswered)
	}
	return err
}

// FinalizeReveal writes graded answers and updated player totals in one
// transaction so a reveal is all-or-nothing in the store.
func (s *SessionDBService) FinalizeReveal(ctx context.Context, answers []*models.SessionAnswer, players []*models.SessionPlayer) error {
	return withRetry(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			for _, a := range answers {
				err := tx.Model(&models.SessionAnswer{}).
					Where("player_row_id = ? AND item_id = ?", a.PlayerRowID, a.ItemID).
					Updates(map[string]interface{}{
						"normalized_json": a.NormalizedJSON,
						"correctness":     a.Correctness,
						"fraction":        a.Fraction,
						"points":          a.Points,
						"revealed":        true,
					}).Error
				if err != nil {
					return err
				}
			}
			return updateScores(tx, players)
		})
	})
}

// AddScores persists score deltas outside a reveal (minigame payouts).
func (s *SessionDBService) AddScores(ctx context.Context, players []*models.SessionPlayer) error {
	return withRetry(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			return updateScores(tx, players)
		})
	})
}

func updateScores(tx *gorm.DB, players []*models.SessionPlayer) error {
	for _, p := range players {
		err := tx.Model(&models.SessionPlayer{}).
			Where("id = ?", p.ID).
			Updates(map[string]interface{}{
				"score":  p.Score,
				"streak": p.Streak,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveState mirrors the actor's state columns.
func (s *SessionDBService) SaveState(ctx context.Context, sessionRowID uint, state string, round, item int) error {
	return withRetry(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Session{}).
			Where("id = ?", sessionRowID).
			Updates(map[string]interface{}{
				"state":         state,
				"current_round": round,
				"current_item":  item,
			}).Error
	})
}

// FinalizeSession stamps the end of play. The row stays readable; the join
// code is freed by the manager.
func (s *SessionDBService) FinalizeSession(ctx context.Context, sessionRowID uint) error {
	return withRetry(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Session{}).
			Where("id = ?", sessionRowID).
			Updates(map[string]interface{}{
				"state":    models.SessionStateEnded,
				"ended_at": time.Now().UTC(),
			}).Error
	})
}

// AppendEvent writes one event-log row (best effort, via the retry queue).
func (s *SessionDBService) AppendEvent(ctx context.Context, ev *models.SessionEvent) error {
	return database.GetDB().WithContext(ctx).Create(ev).Error
}

// --- session queries for the HTTP surface ---

// CreateSession snapshots the quiz and persists the session row. The owner
// token is shown to the host exactly once; only its bcrypt hash is stored.
func (s *SessionDBService) CreateSession(ctx context.Context, quiz *models.Quiz, code, sessionID, ownerToken string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(ownerToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash owner token: %w", err)
	}

	session := &models.Session{
		SessionID:            sessionID,
		Code:                 code,
		QuizID:               quiz.ID,
		State:                models.SessionStateLobby,
		CurrentItem:          -1,
		QuizStructureVersion: quiz.StructureVersion,
		OwnerTokenHash:       string(hash),
	}
	if err := session.SetQuizSnapshot(quiz); err != nil {
		return nil, fmt.Errorf("snapshot quiz %d: %w", quiz.ID, err)
	}
	if err := session.SetScoringSettings(quiz.GetScoringSettings()); err != nil {
		return nil, fmt.Errorf("snapshot scoring settings: %w", err)
	}

	err = withRetry(ctx, func(db *gorm.DB) error {
		return db.Create(session).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// SessionByCode loads the most recent session row for a code, ended or not.
func (s *SessionDBService) SessionByCode(ctx context.Context, code string) (*models.Session, error) {
	var session models.Session
	err := database.GetDB().WithContext(ctx).
		Where("code = ?", code).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("code %s: %w", code, game.ErrSessionUnavailable)
		}
		return nil, fmt.Errorf("load session %s: %w", code, err)
	}
	return &session, nil
}

// ArchiveSession marks a session archived, releasing its quiz lock.
func (s *SessionDBService) ArchiveSession(ctx context.Context, sessionID string) error {
	return withRetry(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Session{}).
			Where("session_id = ?", sessionID).
			Update("archived", true).Error
	})
}

// ActiveSessions loads every in-flight session with its players and the
// answers for its current item, for rehydration after a restart.
func (s *SessionDBService) ActiveSessions(ctx context.Context) ([]RehydratedSession, error) {
	db := database.GetDB().WithContext(ctx)

	var rows []models.Session
	err := db.Where("archived = ? AND ended_at IS NULL", false).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load active sessions: %w", err)
	}

	out := make([]RehydratedSession, 0, len(rows))
	for i := range rows {
		row := rows[i]

		var players []models.SessionPlayer
		if err := db.Where("session_row_id = ?", row.ID).Find(&players).Error; err != nil {
			return nil, fmt.Errorf("load players for %s: %w", row.Code, err)
		}

		var answers []models.SessionAnswer
		if err := db.Where("session_row_id = ?", row.ID).Find(&answers).Error; err != nil {
			return nil, fmt.Errorf("load answers for %s: %w", row.Code, err)
		}

		out = append(out, RehydratedSession{Row: row, Players: players, Answers: answers})
	}
	return out, nil
}

// RehydratedSession bundles a persisted session with its dependent rows.
type RehydratedSession struct {
	Row     models.Session
	Players []models.SessionPlayer
	Answers []models.SessionAnswer
}

// StaleSessions returns active sessions with no update inside the window
// (idle sweeper input).
func (s *SessionDBService) StaleSessions(ctx context.Context, olderThan time.Duration) ([]models.Session, error) {
	var rows []models.Session
	cutoff := time.Now().UTC().Add(-olderThan)
	err := database.GetDB().WithContext(ctx).
		Where("archived = ? AND ended_at IS NULL AND updated_at < ?", false, cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load stale sessions: %w", err)
	}
	return rows, nil
}

// Ping verifies store liveness for health checks.
func (s *SessionDBService) Ping(ctx context.Context) error {
	sqlDB, err := database.GetDB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
