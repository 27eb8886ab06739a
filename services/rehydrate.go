// services/rehydrate.go - Session recovery after a process restart
package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"partyquiz/game"
)

// RehydrateSessions reloads every in-flight session row and re-registers it
// with the manager. Sessions whose quiz was restructured since creation are
// archived instead; their snapshot no longer matches the quiz. Returns the
// number of sessions resumed.
func RehydrateSessions(ctx context.Context, store *SessionDBService, quizzes *QuizDBService, manager *game.Manager, logger *zap.Logger) (int, error) {
	rows, err := store.ActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range rows {
		rs := &rows[i]

		stale := false
		quiz, err := quizzes.GetQuiz(ctx, rs.Row.QuizID)
		switch {
		case errors.Is(err, game.ErrSessionUnavailable):
			stale = true
		case err != nil:
			return resumed, err
		case quiz.StructureVersion != rs.Row.QuizStructureVersion:
			stale = true
		}

		if stale {
			logger.Warn("archiving stale session",
				zap.String("code", rs.Row.Code),
				zap.Uint("quiz_id", rs.Row.QuizID),
				zap.Int("snapshot_version", rs.Row.QuizStructureVersion))
			if err := store.ArchiveSession(ctx, rs.Row.SessionID); err != nil {
				logger.Error("archive failed during rehydration",
					zap.String("code", rs.Row.Code), zap.Error(err))
			}
			continue
		}

		if _, err := manager.Add(&rs.Row, rs.Players, rs.Answers); err != nil {
			logger.Error("could not resume session",
				zap.String("code", rs.Row.Code), zap.Error(err))
			continue
		}
		resumed++
	}

	logger.Info("rehydration complete",
		zap.Int("resumed", resumed),
		zap.Int("scanned", len(rows)))
	return resumed, nil
}
