// game/manager.go - Registry of live session actors keyed by join code
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"partyquiz/models"
)

// codeReuseDelay keeps a freed join code out of circulation long enough for
// stragglers to get SESSION_UNAVAILABLE instead of someone else's lobby.
const codeReuseDelay = time.Minute

const codeAllocAttempts = 20

// Manager owns the code → Session mapping, one of the three process-wide
// singletons (with the Hub and the Clock).
type Manager struct {
	store  Store
	retry  RetryQueue
	hub    *Hub
	clock  Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	recent   map[string]time.Time // freed codes and when
}

// NewManager builds the registry. Start must be called before sessions run.
func NewManager(store Store, retry RetryQueue, hub *Hub, clock Clock, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		retry:    retry,
		hub:      hub,
		clock:    clock,
		logger:   logger,
		sessions: make(map[string]*Session),
		recent:   make(map[string]time.Time),
	}
}

// Start binds the manager to its base context.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// AllocateCode returns a join code unused by any live session and outside the
// reuse window. The store's unique-active constraint is the final arbiter.
func (m *Manager) AllocateCode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for code, freed := range m.recent {
		if now.Sub(freed) > codeReuseDelay {
			delete(m.recent, code)
		}
	}

	for i := 0; i < codeAllocAttempts; i++ {
		code := NewJoinCode()
		if _, live := m.sessions[code]; live {
			continue
		}
		if _, cooling := m.recent[code]; cooling {
			continue
		}
		return code, nil
	}
	return "", fmt.Errorf("could not allocate a free join code after %d attempts", codeAllocAttempts)
}

// Add builds the actor for a persisted session row, registers it, and starts
// its run loop. players and answers are only passed when rehydrating.
func (m *Manager) Add(row *models.Session, players []models.SessionPlayer, answers []models.SessionAnswer) (*Session, error) {
	if m.ctx == nil {
		return nil, fmt.Errorf("manager not started")
	}

	session, err := New(Config{
		Row:     row,
		Store:   m.store,
		Retry:   m.retry,
		Room:    m.hub.Room(row.Code),
		Clock:   m.clock,
		Logger:  m.logger,
		Players: players,
		Answers: answers,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, dup := m.sessions[row.Code]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already registered", row.Code)
	}
	m.sessions[row.Code] = session
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		session.Run(m.ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-session.Done()
		m.remove(row.Code)
	}()

	m.logger.Info("session registered",
		zap.String("code", row.Code),
		zap.String("session_id", row.SessionID))
	return session, nil
}

func (m *Manager) remove(code string) {
	m.mu.Lock()
	delete(m.sessions, code)
	m.recent[code] = m.clock.Now()
	m.mu.Unlock()

	m.hub.DropRoom(code)
	m.logger.Info("session released", zap.String("code", code))
}

// Get resolves a live session by join code.
func (m *Manager) Get(code string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	return s, ok
}

// Count reports live sessions (health checks).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Codes snapshots the live join codes (idle sweeper, debug surface).
func (m *Manager) Codes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := make([]string, 0, len(m.sessions))
	for code := range m.sessions {
		codes = append(codes, code)
	}
	return codes
}

// Shutdown cancels every session and waits up to a second for their
// outstanding work to drain.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		m.logger.Warn("session shutdown timed out")
	}
}
