// services/cleanup.go - Idle session sweeper
package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"partyquiz/game"
)

const (
	sweepInterval = 10 * time.Minute

	// A live session with no connected members for this long is ended.
	idleSessionAfter = 2 * time.Hour

	// Rows left in-flight by a crashed process are archived after this.
	abandonedRowAfter = 24 * time.Hour
)

// CleanupService periodically ends idle live sessions and archives
// abandoned rows so join codes and quiz locks are eventually released.
type CleanupService struct {
	store   *SessionDBService
	manager *game.Manager
	hub     *game.Hub
	logger  *zap.Logger

	wg sync.WaitGroup
}

// NewCleanupService wires the sweeper.
func NewCleanupService(store *SessionDBService, manager *game.Manager, hub *game.Hub, logger *zap.Logger) *CleanupService {
	return &CleanupService{
		store:   store,
		manager: manager,
		hub:     hub,
		logger:  logger.Named("cleanup"),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *CleanupService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop waits for an in-flight sweep to finish.
func (s *CleanupService) Stop() {
	s.wg.Wait()
}

func (s *CleanupService) sweep(ctx context.Context) {
	stale, err := s.store.StaleSessions(ctx, idleSessionAfter)
	if err != nil {
		s.logger.Warn("stale session scan failed", zap.Error(err))
		return
	}

	ended, archived := 0, 0
	for i := range stale {
		row := &stale[i]

		if session, live := s.manager.Get(row.Code); live {
			// Still registered: only end it when nobody is connected.
			if s.hub.Room(row.Code).ConnCount() > 0 {
				continue
			}
			reply := make(chan game.Reply, 1)
			if err := session.Dispatch(ctx, game.HostEndCmd{Reply: reply}); err == nil {
				<-reply
				ended++
			}
			continue
		}

		// Not live in this process: an orphan from a crash. Archive once old
		// enough that a restart clearly isn't picking it up.
		if time.Since(row.UpdatedAt) > abandonedRowAfter {
			if err := s.store.ArchiveSession(ctx, row.SessionID); err != nil {
				s.logger.Warn("archive failed",
					zap.String("code", row.Code),
					zap.Error(err))
				continue
			}
			archived++
		}
	}

	if ended > 0 || archived > 0 {
		s.logger.Info("sweep complete",
			zap.Int("ended", ended),
			zap.Int("archived", archived))
	}
}
