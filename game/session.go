// game/session.go - The session actor: exclusive owner of one playthrough's state
package game

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"partyquiz/minigame"
	"partyquiz/models"
	"partyquiz/protocol"
)

const (
	commandQueueSize = 128
	maxNameLength    = 30

	// ReconnectWindow is how long a disconnected player may resume with their
	// existing token before the idle sweeper may drop the session.
	ReconnectWindow = 5 * time.Minute
)

// playerState is the actor-owned view of one player. The row mirrors the
// durable store; conns counts attached transport connections.
type playerState struct {
	row   *models.SessionPlayer
	conns int
}

func (p *playerState) online() bool { return p.conns > 0 }

// itemRuntime is the transient state of the currently presented item.
type itemRuntime struct {
	item  *models.Item
	round int
	index int
	epoch uint64

	openedAt  time.Time
	deadline  time.Time
	remaining time.Duration // valid while paused
	timer     Timer

	lockReason string
	graded     bool

	// answers by player id; rows persisted at submit, finalized at reveal
	answers map[string]*models.SessionAnswer

	// start payload re-sent in state snapshots (holds the shuffled options)
	started *protocol.ItemStartedPayload
}

func (rt *itemRuntime) itemID() string {
	return strconv.FormatUint(uint64(rt.item.ID), 10)
}

// Config wires one session actor. Players and Answers are only set when
// rehydrating after a restart.
type Config struct {
	Row    *models.Session
	Store  Store
	Retry  RetryQueue
	Room   *Room
	Clock  Clock
	Logger *zap.Logger

	Players []models.SessionPlayer
	Answers []models.SessionAnswer
}

// Session serializes every mutation of one playthrough through a single
// command channel. Nothing outside the run loop touches its state fields.
type Session struct {
	row      *models.Session
	quiz     *models.Quiz
	settings models.ScoringSettings

	store  Store
	retry  RetryQueue
	room   *Room
	clock  Clock
	logger *zap.Logger

	cmds   chan Command
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	// Set at enqueue time so a timer fire in the same batch yields to the
	// queued host lock.
	hostLockPending atomic.Bool

	// Everything below is owned by the run loop.
	state      string
	paused     bool
	epoch      uint64
	players    map[string]*playerState // by player id
	byFolded   map[string]*playerState
	byToken    map[string]*playerState
	runtime    *itemRuntime
	lastRanks  map[string]int
	pendingOps int

	mg       *minigame.Engine
	mgItemID string
	mgEpoch  uint64
	mgTimer  Timer
	mgInputs map[string]minigame.Input
}

// New builds a session actor from its persisted row. A row whose state is
// past LOBBY is rehydrated conservatively into ITEM_LOCKED at the current
// item, so the host re-reveals after a restart.
func New(cfg Config) (*Session, error) {
	quiz, err := cfg.Row.GetQuizSnapshot()
	if err != nil {
		return nil, fmt.Errorf("decode quiz snapshot for session %s: %w", cfg.Row.Code, err)
	}

	s := &Session{
		row:       cfg.Row,
		quiz:      quiz,
		settings:  cfg.Row.GetScoringSettings(),
		store:     cfg.Store,
		retry:     cfg.Retry,
		room:      cfg.Room,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With(zap.String("session", cfg.Row.Code)),
		cmds:      make(chan Command, commandQueueSize),
		done:      make(chan struct{}),
		state:     cfg.Row.State,
		players:   make(map[string]*playerState),
		byFolded:  make(map[string]*playerState),
		byToken:   make(map[string]*playerState),
		lastRanks: make(map[string]int),
		mgInputs:  make(map[string]minigame.Input),
	}

	rowToID := make(map[uint]string, len(cfg.Players))
	for i := range cfg.Players {
		row := &cfg.Players[i]
		ps := &playerState{row: row}
		s.players[row.PlayerID] = ps
		s.byFolded[row.NameFolded] = ps
		s.byToken[row.Token] = ps
		rowToID[row.ID] = row.PlayerID
	}

	switch s.state {
	case models.SessionStateLobby, models.SessionStateEnded, "":
		if s.state == "" {
			s.state = models.SessionStateLobby
		}
	default:
		// Restart recovery: resume at the current item, locked.
		s.state = models.SessionStateItemLocked
		if item := quiz.ItemAt(cfg.Row.CurrentRound, cfg.Row.CurrentItem); item != nil {
			s.runtime = &itemRuntime{
				item:       item,
				round:      cfg.Row.CurrentRound,
				index:      cfg.Row.CurrentItem,
				lockReason: models.LockReasonTimer,
				answers:    make(map[string]*models.SessionAnswer),
			}
			for i := range cfg.Answers {
				ans := &cfg.Answers[i]
				if ans.ItemID != item.ID {
					continue
				}
				if pid, ok := rowToID[ans.PlayerRowID]; ok {
					s.runtime.answers[pid] = ans
				}
			}
		} else {
			s.state = models.SessionStateLobby
		}
	}

	return s, nil
}

// Run processes commands until the context is cancelled or the session ends.
func (s *Session) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	defer func() {
		s.closed.Store(true)
		s.stopTimers()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.handle(ctx, cmd)
			if s.state == models.SessionStateEnded {
				return
			}
		}
	}
}

// Done closes once the run loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dispatch enqueues a command, blocking under backpressure. It fails once the
// session has ended.
func (s *Session) Dispatch(ctx context.Context, cmd Command) error {
	if s.closed.Load() {
		return ErrSessionUnavailable
	}
	_, isHostLock := cmd.(HostLockCmd)
	if isHostLock {
		s.hostLockPending.Store(true)
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		// The command never made it onto the queue, so the pending flag
		// must not survive the failed dispatch.
		if isHostLock {
			s.hostLockPending.Store(false)
		}
		return ErrSessionUnavailable
	case <-ctx.Done():
		if isHostLock {
			s.hostLockPending.Store(false)
		}
		return ctx.Err()
	}
}

// enqueue is the internal best-effort variant used by timer callbacks.
func (s *Session) enqueue(cmd Command) {
	select {
	case s.cmds <- cmd:
	case <-s.done:
	default:
		go func() {
			select {
			case s.cmds <- cmd:
			case <-s.done:
			}
		}()
	}
}

func (s *Session) Code() string      { return s.row.Code }
func (s *Session) SessionID() string { return s.row.SessionID }
func (s *Session) RowID() uint       { return s.row.ID }

// VerifyHostToken checks the owner token issued at creation. The hash is
// immutable after creation so this is safe off the actor goroutine.
func (s *Session) VerifyHostToken(token string) bool {
	if token == "" || s.row.OwnerTokenHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.row.OwnerTokenHash), []byte(token)) == nil
}

func (s *Session) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case HostStartCmd:
		s.reply(c.Reply, s.handleStart(ctx))
	case HostLockCmd:
		s.hostLockPending.Store(false)
		s.reply(c.Reply, s.handleHostLock(ctx))
	case HostRevealCmd:
		s.reply(c.Reply, s.handleReveal(ctx))
	case HostNextCmd:
		s.reply(c.Reply, s.handleNext(ctx))
	case HostCancelCmd:
		s.reply(c.Reply, s.handleCancel(ctx))
	case HostPauseCmd:
		s.reply(c.Reply, s.handlePause())
	case HostResumeCmd:
		s.reply(c.Reply, s.handleResume())
	case HostEndCmd:
		s.reply(c.Reply, s.handleEnd(ctx))
	case HostShowScoreboardCmd:
		s.reply(c.Reply, s.handleShowScoreboard(ctx, c.Scope))
	case HostStartMinigameCmd:
		s.reply(c.Reply, s.handleStartMinigame(ctx, c.Kind, nil))
	case PlayerJoinCmd:
		s.handleJoin(ctx, c)
	case PlayerAnswerCmd:
		s.handleAnswer(ctx, c)
	case PlayerLeaveCmd:
		s.handleLeave(c.PlayerID, "left")
	case GetStateCmd:
		s.handleGetState(c)
	case ConnChangeCmd:
		s.handleConnChange(c)
	case MinigameInputCmd:
		s.handleMinigameInput(c)
	case timerFiredCmd:
		s.handleTimerFired(ctx, c.epoch)
	case minigameTickCmd:
		s.handleMinigameTick(ctx, c.epoch)
	case reconciledCmd:
		if s.pendingOps > 0 {
			s.pendingOps--
		}
		if s.pendingOps == 0 {
			s.logger.Info("persistence reconciled, leaving degraded mode")
		}
	}
}

func (s *Session) reply(ch chan Reply, err error) {
	if ch == nil {
		return
	}
	ch <- Reply{Err: err}
}

// handleJoin serves both fresh joins and token resumes.
func (s *Session) handleJoin(ctx context.Context, c PlayerJoinCmd) {
	respond := func(r JoinReply) {
		if c.Reply != nil {
			c.Reply <- r
		}
	}

	if c.Token != "" {
		ps, ok := s.byToken[c.Token]
		if !ok {
			respond(JoinReply{Err: ErrUnauthorized})
			return
		}
		respond(JoinReply{PlayerID: ps.row.PlayerID, Token: ps.row.Token, Name: ps.row.Name})
		return
	}

	name := c.Name
	if name == "" || len(name) > maxNameLength {
		respond(JoinReply{Err: fmt.Errorf("%w: name must be 1-%d characters", ErrBadRequest, maxNameLength)})
		return
	}
	folded := models.FoldName(name)
	if _, taken := s.byFolded[folded]; taken {
		respond(JoinReply{Err: ErrNameTaken})
		return
	}

	row := &models.SessionPlayer{
		SessionRowID: s.row.ID,
		PlayerID:     uuid.New().String(),
		Name:         name,
		NameFolded:   folded,
		Avatar:       c.Avatar,
		Token:        uuid.New().String(),
		JoinedAt:     s.clock.Now(),
	}

	if err := s.store.CreatePlayer(ctx, row); err != nil {
		if code := ErrorCode(err); code == protocol.ErrNameTaken {
			respond(JoinReply{Err: ErrNameTaken})
			return
		}
		s.degrade(ctx, "create-player", err, func(opCtx context.Context) error {
			return s.store.CreatePlayer(opCtx, row)
		})
	}

	ps := &playerState{row: row}
	s.players[row.PlayerID] = ps
	s.byFolded[folded] = ps
	s.byToken[row.Token] = ps

	s.broadcast(protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
		PlayerID:    row.PlayerID,
		Name:        row.Name,
		Avatar:      row.Avatar,
		PlayerCount: len(s.players),
	})
	respond(JoinReply{PlayerID: row.PlayerID, Token: row.Token, Name: row.Name})
}

func (s *Session) handleLeave(playerID, reason string) {
	ps, ok := s.players[playerID]
	if !ok {
		return
	}
	ps.conns = 0
	now := s.clock.Now()
	ps.row.DisconnectedAt = &now
	s.broadcast(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
		PlayerID: playerID,
		Name:     ps.row.Name,
		Reason:   reason,
	})
}

func (s *Session) handleConnChange(c ConnChangeCmd) {
	ps, ok := s.players[c.PlayerID]
	if !ok {
		return
	}
	was := ps.online()
	ps.conns += c.Delta
	if ps.conns < 0 {
		ps.conns = 0
	}

	switch {
	case !was && ps.online():
		ps.row.DisconnectedAt = nil
		s.broadcast(protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
			PlayerID:    c.PlayerID,
			Name:        ps.row.Name,
			Avatar:      ps.row.Avatar,
			PlayerCount: len(s.players),
		})
	case was && !ps.online():
		now := s.clock.Now()
		ps.row.DisconnectedAt = &now
		s.broadcast(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
			PlayerID: c.PlayerID,
			Name:     ps.row.Name,
			Reason:   "disconnected",
		})
	}
}

// handleGetState synthesizes a SESSION_STATE snapshot for one connection.
// Reconnecting clients rely on this rather than tail replay alone.
func (s *Session) handleGetState(c GetStateCmd) {
	payload := protocol.SessionStatePayload{
		Code:       s.row.Code,
		State:      s.state,
		Paused:     s.paused,
		RoundIndex: s.row.CurrentRound,
		ItemIndex:  s.row.CurrentItem,
		Players:    s.leaderboard(false),
		TotalItems: s.quiz.ItemCount(),
	}
	if s.row.CurrentRound >= 0 && s.row.CurrentRound < len(s.quiz.Rounds) {
		payload.RoundTitle = s.quiz.Rounds[s.row.CurrentRound].Title
	}
	if rt := s.runtime; rt != nil && (s.state == models.SessionStateItemOpen || s.state == models.SessionStateItemLocked) {
		payload.Item = rt.started
		if s.state == models.SessionStateItemOpen && !s.paused {
			payload.DeadlineMS = rt.deadline.UnixMilli()
		}
		if c.PlayerID != "" {
			_, payload.YouAnswered = rt.answers[c.PlayerID]
		}
	}
	s.room.SendTo(c.Conn, protocol.MustMessage(protocol.TypeSessionState, payload))
}

// leaderboard materializes ranked entries. When update is true the rank
// deltas are computed against and recorded into lastRanks.
func (s *Session) leaderboard(update bool) []protocol.LeaderboardEntry {
	ordered := make([]*playerState, 0, len(s.players))
	for _, ps := range s.players {
		ordered = append(ordered, ps)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].row.Score != ordered[j].row.Score {
			return ordered[i].row.Score > ordered[j].row.Score
		}
		return ordered[i].row.PlayerID < ordered[j].row.PlayerID
	})

	entries := make([]protocol.LeaderboardEntry, 0, len(ordered))
	newRanks := make(map[string]int, len(ordered))
	for i, ps := range ordered {
		rank := i + 1
		change := 0
		if prev, ok := s.lastRanks[ps.row.PlayerID]; ok {
			change = prev - rank
		}
		newRanks[ps.row.PlayerID] = rank
		entries = append(entries, protocol.LeaderboardEntry{
			PlayerID:   ps.row.PlayerID,
			Name:       ps.row.Name,
			Avatar:     ps.row.Avatar,
			Score:      ps.row.Score,
			Rank:       rank,
			RankChange: change,
			Streak:     ps.row.Streak,
			Online:     ps.online(),
		})
	}
	if update {
		s.lastRanks = newRanks
	}
	return entries
}

// broadcast emits to the whole room in actor order and appends the event log
// row in the background.
func (s *Session) broadcast(msgType string, payload interface{}) {
	msg := protocol.MustMessage(msgType, payload)
	s.room.Broadcast(msg)
	s.logEvent(msgType, msg)
}

func (s *Session) logEvent(eventType string, msg *protocol.Message) {
	ev := &models.SessionEvent{
		SessionRowID: s.row.ID,
		EventType:    eventType,
		PayloadJSON:  string(msg.Payload),
		Seq:          msg.TS,
	}
	s.retry.Enqueue("event:"+eventType, func(ctx context.Context) error {
		return s.store.AppendEvent(ctx, ev)
	})
}

// degrade records a persistence failure: the session keeps serving from
// memory while the retry queue catches the store up.
func (s *Session) degrade(ctx context.Context, name string, err error, op func(context.Context) error) {
	s.pendingOps++
	s.logger.Error("store write failed, session degraded",
		zap.String("op", name),
		zap.Int("pending", s.pendingOps),
		zap.Error(err))
	s.saveStateMirror(ctx, models.SessionStateDegraded)
	s.retry.Enqueue(name, func(opCtx context.Context) error {
		if opErr := op(opCtx); opErr != nil {
			return opErr
		}
		s.enqueue(reconciledCmd{})
		return nil
	})
}

// saveStateMirror updates the durable state columns, falling back to the
// retry queue on failure. The in-memory actor state is authoritative.
func (s *Session) saveStateMirror(ctx context.Context, state string) {
	id, round, item := s.row.ID, s.row.CurrentRound, s.row.CurrentItem
	if err := s.store.SaveState(ctx, id, state, round, item); err != nil {
		s.retry.Enqueue("save-state", func(opCtx context.Context) error {
			return s.store.SaveState(opCtx, id, state, round, item)
		})
	}
}

func (s *Session) stopTimers() {
	if s.runtime != nil && s.runtime.timer != nil {
		s.runtime.timer.Stop()
		s.runtime.timer = nil
	}
	if s.mgTimer != nil {
		s.mgTimer.Stop()
		s.mgTimer = nil
	}
}

func (s *Session) onlineCount() int {
	n := 0
	for _, ps := range s.players {
		if ps.online() {
			n++
		}
	}
	return n
}

// StartedAt is immutable once the session leaves the lobby.
func (s *Session) StartedAt() *time.Time { return s.row.StartedAt }
