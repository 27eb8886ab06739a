// services/quiz_db.go - Quiz authoring persistence and the structural lock
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"partyquiz/database"
	"partyquiz/game"
	"partyquiz/models"
)

// QuizDBService handles quiz authoring reads and writes. Structural writes
// honor the session lock: a quiz with a non-archived session is immutable.
type QuizDBService struct{}

// NewQuizDBService creates the quiz service.
func NewQuizDBService() *QuizDBService {
	return &QuizDBService{}
}

// GetQuiz loads a quiz with rounds, items, questions, and options in
// presentation order.
func (s *QuizDBService) GetQuiz(ctx context.Context, id uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := database.GetDB().WithContext(ctx).
		Preload("Rounds", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Rounds.Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Rounds.Items.Question").
		Preload("Rounds.Items.Question.Options", func(db *gorm.DB) *gorm.DB { return db.Order("ord ASC") }).
		First(&quiz, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("quiz %d: %w", id, game.ErrSessionUnavailable)
		}
		return nil, fmt.Errorf("load quiz %d: %w", id, err)
	}
	return &quiz, nil
}

// QuizLocked reports whether the quiz has a non-archived, non-ended session.
// The lock lives at the authoring write path, never inside the actor.
func (s *QuizDBService) QuizLocked(ctx context.Context, quizID uint) (bool, error) {
	var count int64
	err := database.GetDB().WithContext(ctx).Model(&models.Session{}).
		Where("quiz_id = ? AND archived = ? AND ended_at IS NULL", quizID, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("quiz lock check: %w", err)
	}
	return count > 0, nil
}

// CreateQuiz persists a new quiz with its full structure.
func (s *QuizDBService) CreateQuiz(ctx context.Context, quiz *models.Quiz) error {
	quiz.StructureVersion = 1
	return withRetry(ctx, func(db *gorm.DB) error {
		return db.Create(quiz).Error
	})
}

// ReplaceQuizStructure swaps the quiz's rounds wholesale and bumps the
// structure version. Fails with QuizLocked while any session holds the quiz.
func (s *QuizDBService) ReplaceQuizStructure(ctx context.Context, quizID uint, title string, rounds []models.Round) (*models.Quiz, error) {
	locked, err := s.QuizLocked(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, fmt.Errorf("quiz %d: %w", quizID, game.ErrQuizLocked)
	}

	var quiz models.Quiz
	err = database.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&quiz, quizID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("quiz %d: %w", quizID, game.ErrSessionUnavailable)
			}
			return err
		}

		// Drop the old structure bottom-up: options, questions, items, rounds.
		var roundIDs []uint
		if err := tx.Model(&models.Round{}).Where("quiz_id = ?", quizID).Pluck("id", &roundIDs).Error; err != nil {
			return err
		}
		if len(roundIDs) > 0 {
			var questionIDs []uint
			err := tx.Model(&models.Item{}).
				Where("round_id IN ? AND question_id IS NOT NULL", roundIDs).
				Pluck("question_id", &questionIDs).Error
			if err != nil {
				return err
			}
			if len(questionIDs) > 0 {
				if err := tx.Where("question_id IN ?", questionIDs).Delete(&models.Option{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", questionIDs).Delete(&models.Question{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("round_id IN ?", roundIDs).Delete(&models.Item{}).Error; err != nil {
				return err
			}
			if err := tx.Where("quiz_id = ?", quizID).Delete(&models.Round{}).Error; err != nil {
				return err
			}
		}

		quiz.Title = title
		quiz.StructureVersion++
		quiz.Rounds = rounds
		for i := range quiz.Rounds {
			r := &quiz.Rounds[i]
			r.ID = 0
			r.QuizID = quizID
			for j := range r.Items {
				it := &r.Items[j]
				it.ID = 0
				it.RoundID = 0
				it.QuestionID = nil
				if it.Question != nil {
					it.Question.ID = 0
					for k := range it.Question.Options {
						it.Question.Options[k].ID = 0
						it.Question.Options[k].QuestionID = 0
					}
				}
			}
		}
		return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(&quiz).Error
	})
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

// ArchiveSessionsForQuiz bulk-archives every session of a quiz, releasing
// the structural lock.
func (s *QuizDBService) ArchiveSessionsForQuiz(ctx context.Context, quizID uint) (int64, error) {
	var affected int64
	err := withRetry(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Session{}).
			Where("quiz_id = ? AND archived = ?", quizID, false).
			Update("archived", true)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}
