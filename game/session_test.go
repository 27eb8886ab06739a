package game

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partyquiz/models"
	"partyquiz/protocol"
)

// fakeClock drives session timers by hand.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped || t.fired
	t.stopped = true
	return !was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time                  { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in schedule order.
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	for {
		fired := false
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(c.now) {
				continue
			}
			t.fired = true
			t.fn()
			fired = true
		}
		if !fired {
			return
		}
	}
}

// fakeStore records writes and can be told to fail.
type fakeStore struct {
	players   []*models.SessionPlayer
	answers   []*models.SessionAnswer
	states    []string
	finalized int
	ended     bool
	nextRowID uint
	answerErr error
	createErr error
}

func (f *fakeStore) CreatePlayer(_ context.Context, p *models.SessionPlayer) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextRowID++
	p.ID = f.nextRowID
	f.players = append(f.players, p)
	return nil
}

func (f *fakeStore) AppendAnswer(_ context.Context, a *models.SessionAnswer) error {
	if f.answerErr != nil {
		return f.answerErr
	}
	f.answers = append(f.answers, a)
	return nil
}

func (f *fakeStore) FinalizeReveal(_ context.Context, _ []*models.SessionAnswer, _ []*models.SessionPlayer) error {
	f.finalized++
	return nil
}

func (f *fakeStore) AddScores(_ context.Context, _ []*models.SessionPlayer) error { return nil }

func (f *fakeStore) SaveState(_ context.Context, _ uint, state string, _, _ int) error {
	f.states = append(f.states, state)
	return nil
}

func (f *fakeStore) FinalizeSession(_ context.Context, _ uint) error {
	f.ended = true
	return nil
}

func (f *fakeStore) AppendEvent(_ context.Context, _ *models.SessionEvent) error { return nil }

// fakeRetry records enqueued work without running it.
type fakeRetry struct {
	ops []string
}

func (f *fakeRetry) Enqueue(name string, _ func(context.Context) error) {
	f.ops = append(f.ops, name)
}

// harness drives the actor synchronously: commands are handled inline, timer
// fires are pumped off the queue by hand.
type harness struct {
	t     *testing.T
	s     *Session
	clock *fakeClock
	store *fakeStore
	retry *fakeRetry
	conn  *Conn
	ctx   context.Context
}

func scenarioQuiz() *models.Quiz {
	return &models.Quiz{
		ID:               1,
		Title:            "Pub Night",
		StructureVersion: 1,
		Rounds: []models.Round{{
			Title: "Round One",
			Items: []models.Item{{
				ID:           100,
				Kind:         models.ItemKindQuestion,
				TimerSeconds: 10,
				BasePoints:   10,
				Question: &models.Question{
					ID:   1,
					Type: models.QuestionSingleChoice,
					Options: []models.Option{
						{ID: 10, Text: "A", IsCorrect: false, Ord: 0},
						{ID: 11, Text: "B", IsCorrect: true, Ord: 1},
						{ID: 12, Text: "C", IsCorrect: false, Ord: 2},
					},
				},
			}},
		}},
	}
}

func newHarness(t *testing.T, quiz *models.Quiz) *harness {
	t.Helper()

	row := &models.Session{
		ID:          7,
		SessionID:   "sess-1",
		Code:        "ABC234",
		QuizID:      quiz.ID,
		State:       models.SessionStateLobby,
		CurrentItem: -1,
	}
	require.NoError(t, row.SetQuizSnapshot(quiz))

	clock := newFakeClock()
	store := &fakeStore{}
	retry := &fakeRetry{}
	hub := NewHub(zap.NewNop())
	room := hub.Room(row.Code)

	s, err := New(Config{
		Row:    row,
		Store:  store,
		Retry:  retry,
		Room:   room,
		Clock:  clock,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	conn := NewConn(protocol.RoleDisplay, "")
	room.Join(conn)

	return &harness{t: t, s: s, clock: clock, store: store, retry: retry, conn: conn, ctx: context.Background()}
}

// pump handles queued internal commands (timer fires).
func (h *harness) pump() {
	for {
		select {
		case cmd := <-h.s.cmds:
			h.s.handle(h.ctx, cmd)
		default:
			return
		}
	}
}

func (h *harness) join(name string) JoinReply {
	h.t.Helper()
	reply := make(chan JoinReply, 1)
	h.s.handle(h.ctx, PlayerJoinCmd{Name: name, Reply: reply})
	return <-reply
}

// host runs a command whose reply channel was created with replyChan.
func (h *harness) host(cmd Command, reply chan Reply) error {
	h.t.Helper()
	h.s.handle(h.ctx, cmd)
	return (<-reply).Err
}

func (h *harness) start() error {
	r := replyChan()
	return h.host(HostStartCmd{Reply: r}, r)
}

func (h *harness) lock() error {
	r := replyChan()
	return h.host(HostLockCmd{Reply: r}, r)
}

func (h *harness) reveal() error {
	r := replyChan()
	return h.host(HostRevealCmd{Reply: r}, r)
}

func (h *harness) next() error {
	r := replyChan()
	return h.host(HostNextCmd{Reply: r}, r)
}

func (h *harness) answer(playerID string, itemID uint, raw string) Reply {
	h.t.Helper()
	reply := make(chan Reply, 1)
	h.s.handle(h.ctx, PlayerAnswerCmd{
		PlayerID: playerID,
		ItemID:   itemID,
		Raw:      json.RawMessage(raw),
		Reply:    reply,
	})
	return <-reply
}

// broadcasts drains the observer connection and returns the message types.
func (h *harness) broadcasts() []string {
	var types []string
	for {
		select {
		case msg := <-h.conn.Outbound():
			types = append(types, msg.Type)
		default:
			return types
		}
	}
}

func replyChan() chan Reply { return make(chan Reply, 1) }

func TestHappyMCQScoring(t *testing.T) {
	h := newHarness(t, scenarioQuiz())

	p1 := h.join("Alice")
	require.NoError(t, p1.Err)
	p2 := h.join("Bob")
	require.NoError(t, p2.Err)

	require.NoError(t, h.start())
	assert.Equal(t, models.SessionStateItemOpen, h.s.state)

	h.clock.Advance(2 * time.Second)
	r := h.answer(p1.PlayerID, 100, `{"option_id":11}`)
	require.NoError(t, r.Err)
	require.NotNil(t, r.Msg)
	assert.Equal(t, protocol.TypeAnswerReceived, r.Msg.Type)

	h.clock.Advance(3 * time.Second)
	r = h.answer(p2.PlayerID, 100, `{"option_id":10}`)
	require.NoError(t, r.Err)

	// The deadline fires at t=10s and locks the item.
	h.clock.Advance(5 * time.Second)
	h.pump()
	assert.Equal(t, models.SessionStateItemLocked, h.s.state)
	assert.Equal(t, models.LockReasonTimer, h.s.runtime.lockReason)

	require.NoError(t, h.reveal())
	assert.Equal(t, models.SessionStateItemRevealed, h.s.state)

	// round(10 * 1.0 * (0.5 + 0.5*(1 - 0.2))) = 9 for the fast correct answer.
	assert.Equal(t, 9, h.s.players[p1.PlayerID].row.Score)
	assert.Equal(t, 0, h.s.players[p2.PlayerID].row.Score)
	assert.Equal(t, 1, h.store.finalized)

	types := h.broadcasts()
	assert.Contains(t, types, protocol.TypeItemStarted)
	assert.Contains(t, types, protocol.TypeItemLocked)
	assert.Contains(t, types, protocol.TypeRevealAnswers)
	assert.Contains(t, types, protocol.TypeLeaderboardUpdate)
	assert.NotContains(t, types, protocol.TypeSpeedPodium, "podium is opt-in")
}

func TestAnswerGuards(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")

	// Before the item opens.
	r := h.answer(p1.PlayerID, 100, `{"option_id":11}`)
	assert.ErrorIs(t, r.Err, ErrItemNotOpen)

	// Unknown player.
	require.NoError(t, h.start())
	r = h.answer("ghost", 100, `{"option_id":11}`)
	assert.ErrorIs(t, r.Err, ErrUnauthorized)

	// Malformed payload never consumes the one answer slot.
	r = h.answer(p1.PlayerID, 100, `{"option_id":999}`)
	assert.ErrorIs(t, r.Err, ErrBadRequest)
	r = h.answer(p1.PlayerID, 100, `{"option_id":11}`)
	require.NoError(t, r.Err)

	// At most one answer per item.
	r = h.answer(p1.PlayerID, 100, `{"option_id":10}`)
	assert.ErrorIs(t, r.Err, ErrAlreadyAnswered)

	// After the lock.
	require.NoError(t, h.lock())
	r = h.answer(p1.PlayerID, 100, `{"option_id":10}`)
	assert.ErrorIs(t, r.Err, ErrItemNotOpen)
}

func TestHostLockWinsTimerTie(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	h.join("Alice")
	require.NoError(t, h.start())

	// A HOST_LOCK is already queued when the deadline fires: the timer fire
	// yields, then the host lock lands.
	h.s.hostLockPending.Store(true)
	h.clock.Advance(10 * time.Second)
	h.pump()
	assert.Equal(t, models.SessionStateItemOpen, h.s.state, "timer fire defers to the queued host lock")

	require.NoError(t, h.lock())
	assert.Equal(t, models.SessionStateItemLocked, h.s.state)
	assert.Equal(t, models.LockReasonHost, h.s.runtime.lockReason)
}

func TestFailedLockDispatchDoesNotSuppressTimer(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	h.join("Alice")
	require.NoError(t, h.start())

	// Fill the queue so the dispatch can only resolve via the context.
	for i := 0; i < cap(h.s.cmds); i++ {
		h.s.cmds <- timerFiredCmd{epoch: h.s.runtime.epoch - 1}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.s.Dispatch(ctx, HostLockCmd{Reply: replyChan()})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.s.hostLockPending.Load(), "a failed dispatch leaves no pending lock behind")

	// The deadline still locks the item by timer.
	h.pump()
	h.clock.Advance(10 * time.Second)
	h.pump()
	assert.Equal(t, models.SessionStateItemLocked, h.s.state)
	assert.Equal(t, models.LockReasonTimer, h.s.runtime.lockReason)
}

func TestStaleTimerFireIgnored(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	h.join("Alice")
	require.NoError(t, h.start())

	// A fire from a previous presentation epoch is dropped.
	h.s.handle(h.ctx, timerFiredCmd{epoch: h.s.runtime.epoch - 1})
	assert.Equal(t, models.SessionStateItemOpen, h.s.state)

	h.s.handle(h.ctx, timerFiredCmd{epoch: h.s.runtime.epoch})
	assert.Equal(t, models.SessionStateItemLocked, h.s.state)
}

func TestNameUniquenessAndResume(t *testing.T) {
	h := newHarness(t, scenarioQuiz())

	p1 := h.join("Alice")
	require.NoError(t, p1.Err)
	require.NotEmpty(t, p1.Token)

	dup := h.join("  ALICE ")
	assert.ErrorIs(t, dup.Err, ErrNameTaken)

	// Token resume returns the same identity without creating a player.
	reply := make(chan JoinReply, 1)
	h.s.handle(h.ctx, PlayerJoinCmd{Token: p1.Token, Reply: reply})
	resumed := <-reply
	require.NoError(t, resumed.Err)
	assert.Equal(t, p1.PlayerID, resumed.PlayerID)
	assert.Len(t, h.store.players, 1)

	bad := make(chan JoinReply, 1)
	h.s.handle(h.ctx, PlayerJoinCmd{Token: "nope", Reply: bad})
	assert.ErrorIs(t, (<-bad).Err, ErrUnauthorized)

	long := h.join("this display name is far too long to accept")
	assert.ErrorIs(t, long.Err, ErrBadRequest)
}

func TestAllOnlineAnsweredLocksEarly(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")
	p2 := h.join("Bob")

	// P2 never connects; only online players gate the early lock.
	h.s.handle(h.ctx, ConnChangeCmd{PlayerID: p1.PlayerID, Delta: 1})

	require.NoError(t, h.start())
	r := h.answer(p1.PlayerID, 100, `{"option_id":11}`)
	require.NoError(t, r.Err)

	assert.Equal(t, models.SessionStateItemLocked, h.s.state)
	assert.Equal(t, models.LockReasonAllAnswered, h.s.runtime.lockReason)
	_ = p2
}

func TestReconnectSnapshotShowsOwnAnswer(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")

	require.NoError(t, h.start())
	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.answer(p1.PlayerID, 100, `{"option_id":11}`).Err)

	snap := NewConn(protocol.RolePlayer, p1.PlayerID)
	h.s.room.Join(snap)
	h.s.handle(h.ctx, GetStateCmd{PlayerID: p1.PlayerID, Conn: snap})

	var got *protocol.Message
	for {
		var done bool
		select {
		case msg := <-snap.Outbound():
			if msg.Type == protocol.TypeSessionState {
				got = msg
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	require.NotNil(t, got)

	var state protocol.SessionStatePayload
	require.NoError(t, got.UnmarshalPayload(&state))
	assert.Equal(t, models.SessionStateItemOpen, state.State)
	assert.True(t, state.YouAnswered)
	require.NotNil(t, state.Item)
	assert.Equal(t, "100", state.Item.ItemID)
	assert.NotZero(t, state.DeadlineMS)

	// Re-submission after reconnect is still refused.
	r := h.answer(p1.PlayerID, 100, `{"option_id":10}`)
	assert.ErrorIs(t, r.Err, ErrAlreadyAnswered)
}

func TestPauseAndResumeStretchDeadline(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")
	require.NoError(t, h.start())

	h.clock.Advance(4 * time.Second)
	pause := replyChan()
	require.NoError(t, h.host(HostPauseCmd{Reply: pause}, pause))

	// Time passing while paused neither locks nor shrinks the budget.
	h.clock.Advance(30 * time.Second)
	h.pump()
	assert.Equal(t, models.SessionStateItemOpen, h.s.state)

	r := h.answer(p1.PlayerID, 100, `{"option_id":11}`)
	assert.ErrorIs(t, r.Err, ErrItemNotOpen, "answers are refused while paused")

	resume := replyChan()
	require.NoError(t, h.host(HostResumeCmd{Reply: resume}, resume))

	// Elapsed time resumes at 4s: answering now scores as t=4s of 10s.
	require.NoError(t, h.answer(p1.PlayerID, 100, `{"option_id":11}`).Err)

	h.clock.Advance(6 * time.Second)
	h.pump()
	assert.Equal(t, models.SessionStateItemLocked, h.s.state)

	require.NoError(t, h.reveal())
	// round(10 * (0.5 + 0.5*0.6)) = 8.
	assert.Equal(t, 8, h.s.players[p1.PlayerID].row.Score)
}

func TestCancelSkipsScoring(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")
	require.NoError(t, h.start())
	require.NoError(t, h.answer(p1.PlayerID, 100, `{"option_id":11}`).Err)

	cancel := replyChan()
	require.NoError(t, h.host(HostCancelCmd{Reply: cancel}, cancel))
	assert.Equal(t, models.SessionStateItemRevealed, h.s.state)
	assert.Equal(t, 0, h.s.players[p1.PlayerID].row.Score, "cancelled items never score")
	assert.Equal(t, 0, h.store.finalized)

	types := h.broadcasts()
	assert.Contains(t, types, protocol.TypeItemCancelled)
	assert.NotContains(t, types, protocol.TypeRevealAnswers)
}

func TestSessionEndAfterLastItem(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")
	require.NoError(t, h.start())
	require.NoError(t, h.lock())
	require.NoError(t, h.reveal())

	require.NoError(t, h.next())
	assert.Equal(t, models.SessionStateEnded, h.s.state)
	assert.True(t, h.store.ended)
	assert.NotNil(t, h.s.row.EndedAt)

	types := h.broadcasts()
	assert.Contains(t, types, protocol.TypeSessionEnded)
	_ = p1
}

func TestDegradedModeKeepsServing(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")
	require.NoError(t, h.start())

	h.store.answerErr = context.DeadlineExceeded
	r := h.answer(p1.PlayerID, 100, `{"option_id":11}`)
	require.NoError(t, r.Err, "the in-memory answer is accepted despite the store failure")
	assert.Equal(t, 1, h.s.pendingOps)
	assert.Contains(t, h.retry.ops, "append-answer")

	// The durable mirror reports DEGRADED while writes are outstanding.
	assert.Contains(t, h.store.states, models.SessionStateDegraded)

	// Reconciliation clears the flag.
	h.s.handle(h.ctx, reconciledCmd{})
	assert.Equal(t, 0, h.s.pendingOps)
}

func TestRehydrationResumesLocked(t *testing.T) {
	quiz := scenarioQuiz()
	row := &models.Session{
		ID:           7,
		SessionID:    "sess-1",
		Code:         "ABC234",
		State:        models.SessionStateItemOpen,
		CurrentRound: 0,
		CurrentItem:  0,
	}
	require.NoError(t, row.SetQuizSnapshot(quiz))

	players := []models.SessionPlayer{
		{ID: 1, PlayerID: "p1", Name: "Alice", NameFolded: "alice", Token: "tok-1", Score: 5},
	}
	answers := []models.SessionAnswer{
		{ID: 1, PlayerRowID: 1, ItemID: 100, PayloadJSON: `{"option_id":11}`, ReceivedMS: 2000},
	}

	hub := NewHub(zap.NewNop())
	s, err := New(Config{
		Row:     row,
		Store:   &fakeStore{},
		Retry:   &fakeRetry{},
		Room:    hub.Room(row.Code),
		Clock:   newFakeClock(),
		Logger:  zap.NewNop(),
		Players: players,
		Answers: answers,
	})
	require.NoError(t, err)

	// A mid-item crash resumes conservatively locked, answers preserved.
	assert.Equal(t, models.SessionStateItemLocked, s.state)
	require.NotNil(t, s.runtime)
	require.Contains(t, s.runtime.answers, "p1")
	assert.Equal(t, int64(2000), s.runtime.answers["p1"].ReceivedMS)

	// Reveal works directly from the rehydrated state.
	reply := make(chan Reply, 1)
	s.handle(context.Background(), HostRevealCmd{Reply: reply})
	require.NoError(t, (<-reply).Err)
	assert.Equal(t, models.SessionStateItemRevealed, s.state)
	assert.Equal(t, 5+9, s.players["p1"].row.Score)
}

func TestMinigameLifecycle(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	p1 := h.join("Alice")

	reply := replyChan()
	h.s.handle(h.ctx, HostStartMinigameCmd{Kind: "classic", Reply: reply})
	require.NoError(t, (<-reply).Err)
	assert.Equal(t, models.SessionStateMinigame, h.s.state)

	types := h.broadcasts()
	require.Contains(t, types, protocol.TypeSwanChaseStarted)

	// Inputs are routed to the engine's per-player slot.
	h.s.handle(h.ctx, MinigameInputCmd{
		PlayerID: p1.PlayerID,
		Input:    protocol.MinigameInputPayload{Thrust: 1},
		At:       h.clock.Now(),
	})
	assert.Equal(t, 1.0, h.s.mgInputs[p1.PlayerID].Thrust)

	// Two ticks produce one 15 Hz state diff.
	h.clock.Advance(time.Second / 30)
	h.pump()
	h.clock.Advance(time.Second / 30)
	h.pump()
	assert.Contains(t, h.broadcasts(), protocol.TypeSwanChaseState)

	// Starting a second minigame while one runs is refused.
	again := replyChan()
	h.s.handle(h.ctx, HostStartMinigameCmd{Kind: "classic", Reply: again})
	assert.ErrorIs(t, (<-again).Err, ErrBadRequest)
}

func TestShowScoreboardScopes(t *testing.T) {
	h := newHarness(t, scenarioQuiz())
	h.join("Alice")
	require.NoError(t, h.start())
	require.NoError(t, h.lock())
	require.NoError(t, h.reveal())

	reply := replyChan()
	h.s.handle(h.ctx, HostShowScoreboardCmd{Scope: "top3", Reply: reply})
	require.NoError(t, (<-reply).Err)
	assert.Equal(t, models.SessionStateScoreboard, h.s.state)

	bad := replyChan()
	h.s.handle(h.ctx, HostShowScoreboardCmd{Scope: "top7", Reply: bad})
	assert.ErrorIs(t, (<-bad).Err, ErrBadRequest)

	// Advancing from the scoreboard hides it (and here, ends the quiz).
	require.NoError(t, h.next())
	types := h.broadcasts()
	assert.Contains(t, types, protocol.TypeHideScoreboard)
}
