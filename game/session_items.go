// game/session_items.go - Item lifecycle: open, lock, reveal, advance, minigame
package game

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"partyquiz/minigame"
	"partyquiz/models"
	"partyquiz/protocol"
)

const (
	minigameTickInterval = time.Second / minigame.TickRate
	minigameTickBudget   = 10 * time.Millisecond
	defaultMinigameSecs  = 60
)

func (s *Session) handleStart(ctx context.Context) error {
	if s.state != models.SessionStateLobby {
		return fmt.Errorf("%w: session already started", ErrBadRequest)
	}
	now := s.clock.Now()
	s.row.StartedAt = &now

	round, index, ok := s.quiz.NextIndex(0, -1)
	if !ok {
		return s.endSession(ctx)
	}
	s.openItem(ctx, round, index)
	return nil
}

func (s *Session) handleNext(ctx context.Context) error {
	switch s.state {
	case models.SessionStateItemRevealed:
	case models.SessionStateScoreboard:
		s.broadcast(protocol.TypeHideScoreboard, nil)
	default:
		return fmt.Errorf("%w: cannot advance from %s", ErrBadRequest, s.state)
	}

	round, index, ok := s.quiz.NextIndex(s.row.CurrentRound, s.row.CurrentItem)
	if !ok {
		return s.endSession(ctx)
	}
	s.openItem(ctx, round, index)
	return nil
}

// openItem presents the item at (round, index). The epoch ties the deadline
// timer to this presentation so a stale fire cannot lock a later item.
func (s *Session) openItem(ctx context.Context, round, index int) {
	item := s.quiz.ItemAt(round, index)
	if item == nil {
		s.logger.Error("item index out of range", zap.Int("round", round), zap.Int("item", index))
		return
	}

	if s.runtime != nil && s.runtime.timer != nil {
		s.runtime.timer.Stop()
	}

	s.epoch++
	s.row.CurrentRound = round
	s.row.CurrentItem = index
	rt := &itemRuntime{
		item:    item,
		round:   round,
		index:   index,
		epoch:   s.epoch,
		answers: make(map[string]*models.SessionAnswer),
	}
	s.runtime = rt

	switch item.Kind {
	case models.ItemKindQuestion:
		duration := time.Duration(item.TimerSeconds) * time.Second
		rt.openedAt = s.clock.Now()
		rt.deadline = rt.openedAt.Add(duration)
		rt.started = s.buildItemStarted(rt)
		s.state = models.SessionStateItemOpen
		s.armItemTimer(rt, duration)
		s.broadcast(protocol.TypeItemStarted, rt.started)

	case models.ItemKindScoreboard:
		s.state = models.SessionStateScoreboard
		s.broadcast(protocol.TypeShowScoreboard, protocol.ScoreboardPayload{
			Scope:   "all",
			Entries: s.leaderboard(false),
		})

	case models.ItemKindMinigame:
		if err := s.handleStartMinigame(ctx, item.MinigameKind, item); err != nil {
			s.logger.Warn("minigame item failed to start, skipping", zap.Error(err))
			s.state = models.SessionStateItemRevealed
		}

	default: // break cards and anything unrecognized just display
		rt.started = s.buildItemStarted(rt)
		s.state = models.SessionStateItemRevealed
		s.broadcast(protocol.TypeItemStarted, rt.started)
	}

	s.mirror(ctx)
}

// buildItemStarted assembles the public item payload. Correct flags never
// leave the server; option order is shuffled deterministically per item so
// every client and every replay agrees.
func (s *Session) buildItemStarted(rt *itemRuntime) *protocol.ItemStartedPayload {
	item := rt.item
	payload := &protocol.ItemStartedPayload{
		RoundIndex:   rt.round,
		ItemIndex:    rt.index,
		ItemID:       rt.itemID(),
		Kind:         item.Kind,
		TimerSeconds: item.TimerSeconds,
		BasePoints:   item.BasePoints,
	}
	if !rt.deadline.IsZero() {
		payload.DeadlineMS = rt.deadline.UnixMilli()
	}

	q := item.Question
	if q == nil {
		return payload
	}
	payload.QuestionType = q.Type
	payload.Prompt = q.Prompt
	payload.Media = q.Media()

	switch q.Type {
	case models.QuestionSingleChoice, models.QuestionMultiChoice,
		models.QuestionPoll, models.QuestionOrdered:
		payload.Options = shuffledOptions(s.row.Code, rt.itemID(), q.Options)
	case models.QuestionTrueFalse:
		for _, opt := range q.Options {
			payload.Options = append(payload.Options, protocol.ItemOption{
				ID:   strconv.FormatUint(uint64(opt.ID), 10),
				Text: opt.Text,
			})
		}
	}
	return payload
}

func shuffledOptions(code, itemID string, options []models.Option) []protocol.ItemOption {
	out := make([]protocol.ItemOption, 0, len(options))
	for _, opt := range options {
		out = append(out, protocol.ItemOption{
			ID:   strconv.FormatUint(uint64(opt.ID), 10),
			Text: opt.Text,
		})
	}
	rng := rand.New(rand.NewSource(presentationSeed(code, itemID)))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func presentationSeed(code, itemID string) int64 {
	h := sha256.Sum256([]byte(code + ":" + itemID))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

func (s *Session) armItemTimer(rt *itemRuntime, d time.Duration) {
	epoch := rt.epoch
	rt.timer = s.clock.AfterFunc(d, func() {
		s.enqueue(timerFiredCmd{epoch: epoch})
	})
}

func (s *Session) handleTimerFired(ctx context.Context, epoch uint64) {
	rt := s.runtime
	if rt == nil || rt.epoch != epoch || s.state != models.SessionStateItemOpen || s.paused {
		return
	}
	// A host lock already sitting in the queue wins the tie.
	if s.hostLockPending.Load() {
		return
	}
	s.lockItem(ctx, models.LockReasonTimer)
}

func (s *Session) handleHostLock(ctx context.Context) error {
	if s.state != models.SessionStateItemOpen {
		return fmt.Errorf("%w: no open item to lock", ErrItemNotOpen)
	}
	s.lockItem(ctx, models.LockReasonHost)
	return nil
}

func (s *Session) lockItem(ctx context.Context, reason string) {
	rt := s.runtime
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
	rt.lockReason = reason
	s.state = models.SessionStateItemLocked
	s.broadcast(protocol.TypeItemLocked, protocol.ItemLockedPayload{
		ItemID: rt.itemID(),
		Reason: reason,
	})
	s.mirror(ctx)
}

func (s *Session) handleCancel(ctx context.Context) error {
	if s.state != models.SessionStateItemOpen && s.state != models.SessionStateItemLocked {
		return fmt.Errorf("%w: no item to cancel", ErrItemNotOpen)
	}
	rt := s.runtime
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
	rt.lockReason = models.LockReasonCancelled
	s.state = models.SessionStateItemRevealed
	s.broadcast(protocol.TypeItemCancelled, protocol.ItemCancelledPayload{ItemID: rt.itemID()})
	s.mirror(ctx)
	return nil
}

func (s *Session) handleAnswer(ctx context.Context, c PlayerAnswerCmd) {
	respond := func(msg *protocol.Message, err error) {
		if c.Reply != nil {
			c.Reply <- Reply{Msg: msg, Err: err}
		}
	}

	ps, ok := s.players[c.PlayerID]
	if !ok {
		respond(nil, ErrUnauthorized)
		return
	}
	rt := s.runtime
	if s.state != models.SessionStateItemOpen || s.paused || rt == nil || rt.item.Question == nil {
		respond(nil, ErrItemNotOpen)
		return
	}
	if c.ItemID != rt.item.ID {
		respond(nil, fmt.Errorf("%w: item %d is not current", ErrItemNotOpen, c.ItemID))
		return
	}
	if _, dup := rt.answers[c.PlayerID]; dup {
		respond(nil, ErrAlreadyAnswered)
		return
	}
	if _, err := Grade(rt.item.Question, c.Raw); err != nil {
		respond(nil, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	elapsed := s.clock.Since(rt.openedAt)
	ans := &models.SessionAnswer{
		SessionRowID: s.row.ID,
		PlayerRowID:  ps.row.ID,
		ItemID:       rt.item.ID,
		PayloadJSON:  string(c.Raw),
		ReceivedMS:   elapsed.Milliseconds(),
	}

	if err := s.store.AppendAnswer(ctx, ans); err != nil {
		if code := ErrorCode(err); code == protocol.ErrAlreadyAnswered {
			respond(nil, ErrAlreadyAnswered)
			return
		}
		s.degrade(ctx, "append-answer", err, func(opCtx context.Context) error {
			return s.store.AppendAnswer(opCtx, ans)
		})
	}
	rt.answers[c.PlayerID] = ans

	respond(protocol.MustMessage(protocol.TypeAnswerReceived, protocol.AnswerReceivedPayload{
		ItemID:    rt.itemID(),
		ElapsedMS: ans.ReceivedMS,
	}), nil)

	online := s.onlineCount()
	s.broadcast(protocol.TypeAnswerCountUpdated, protocol.AnswerCountPayload{
		ItemID:   rt.itemID(),
		Answered: len(rt.answers),
		Online:   online,
	})

	// Disconnected players never block the all-answered lock.
	if online > 0 && s.allOnlineAnswered() {
		s.lockItem(ctx, models.LockReasonAllAnswered)
	}
}

func (s *Session) allOnlineAnswered() bool {
	for id, ps := range s.players {
		if !ps.online() {
			continue
		}
		if _, ok := s.runtime.answers[id]; !ok {
			return false
		}
	}
	return true
}

// handleReveal grades every player, finalizes points exactly once, and
// broadcasts results. Re-revealing after a crash recomputes the identical
// outcome because grading and scoring are deterministic.
func (s *Session) handleReveal(ctx context.Context) error {
	if s.state != models.SessionStateItemLocked {
		return fmt.Errorf("%w: no locked item to reveal", ErrItemNotOpen)
	}
	rt := s.runtime
	q := rt.item.Question
	if q == nil {
		return fmt.Errorf("%w: current item has no question", ErrBadRequest)
	}

	duration := time.Duration(rt.item.TimerSeconds) * time.Second
	isPoll := q.Type == models.QuestionPoll

	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		results    []protocol.PlayerResult
		candidates []PodiumCandidate
		answerRows []*models.SessionAnswer
		playerRows []*models.SessionPlayer
		pollCounts map[string]int
	)
	if isPoll {
		pollCounts = make(map[string]int)
	}

	for _, id := range ids {
		ps := s.players[id]
		ans := rt.answers[id]

		if ans == nil {
			correctness := models.CorrectnessIncorrect
			if isPoll {
				correctness = models.CorrectnessUnscored
			} else {
				ps.row.Streak = 0
			}
			results = append(results, protocol.PlayerResult{
				PlayerID:    id,
				Name:        ps.row.Name,
				Correctness: correctness,
			})
			playerRows = append(playerRows, ps.row)
			continue
		}

		res, err := Grade(q, json.RawMessage(ans.PayloadJSON))
		if err != nil {
			res = GradeResult{Correctness: models.CorrectnessIncorrect}
		}
		ans.Correctness = res.Correctness
		ans.Fraction = res.Fraction
		ans.NormalizedJSON = string(res.Normalized)

		if isPoll {
			var choice struct {
				OptionID uint `json:"option_id"`
			}
			if json.Unmarshal(res.Normalized, &choice) == nil {
				pollCounts[strconv.FormatUint(uint64(choice.OptionID), 10)]++
			}
		} else {
			elapsed := time.Duration(ans.ReceivedMS) * time.Millisecond
			pts := Points(rt.item.BasePoints, res.Fraction, duration, elapsed)
			newStreak := StreakAfter(res.Fraction, ps.row.Streak)
			pts += StreakBonus(s.settings, res.Fraction, newStreak)
			ans.Points = pts
			ps.row.Streak = newStreak
			ps.row.Score += pts
			if res.Fraction >= 1.0 {
				candidates = append(candidates, PodiumCandidate{PlayerID: id, Elapsed: elapsed})
			}
		}
		ans.Revealed = true

		results = append(results, protocol.PlayerResult{
			PlayerID:    id,
			Name:        ps.row.Name,
			Correctness: ans.Correctness,
			Fraction:    ans.Fraction,
			Points:      ans.Points,
			ElapsedMS:   ans.ReceivedMS,
			Answer:      json.RawMessage(ans.NormalizedJSON),
			Streak:      ps.row.Streak,
		})
		answerRows = append(answerRows, ans)
		playerRows = append(playerRows, ps.row)
	}

	var awards []PodiumAward
	if s.settings.SpeedPodium && !isPoll {
		awards = SpeedPodium(rt.item.BasePoints, s.settings.SpeedPodiumPercents, candidates)
		for _, award := range awards {
			s.players[award.PlayerID].row.Score += award.Bonus
		}
	}

	if err := s.store.FinalizeReveal(ctx, answerRows, playerRows); err != nil {
		s.degrade(ctx, "finalize-reveal", err, func(opCtx context.Context) error {
			return s.store.FinalizeReveal(opCtx, answerRows, playerRows)
		})
	}

	rt.graded = true
	s.state = models.SessionStateItemRevealed

	reveal := protocol.RevealPayload{
		ItemID:       rt.itemID(),
		QuestionType: q.Type,
		Correct:      correctPayload(q),
		Results:      results,
		PollCounts:   pollCounts,
	}
	if rt.item.ShowExplanation {
		reveal.Explanation = q.Explanation
	}
	s.broadcast(protocol.TypeRevealAnswers, reveal)

	if len(awards) > 0 {
		out := make([]protocol.PodiumAward, 0, len(awards))
		for _, a := range awards {
			out = append(out, protocol.PodiumAward{
				PlayerID:  a.PlayerID,
				Name:      s.players[a.PlayerID].row.Name,
				Rank:      a.Rank,
				Bonus:     a.Bonus,
				ElapsedMS: a.Elapsed.Milliseconds(),
			})
		}
		s.broadcast(protocol.TypeSpeedPodium, protocol.SpeedPodiumPayload{
			ItemID: rt.itemID(),
			Awards: out,
		})
	}

	s.broadcast(protocol.TypeLeaderboardUpdate, protocol.LeaderboardPayload{Entries: s.leaderboard(true)})
	s.mirror(ctx)
	return nil
}

// correctPayload exposes the canonical answer after reveal, shaped per type.
func correctPayload(q *models.Question) json.RawMessage {
	variant, err := q.Variant()
	if err != nil {
		return nil
	}

	marshal := func(v interface{}) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}

	switch v := variant.(type) {
	case models.SingleChoiceVariant:
		return marshal(map[string]uint{"option_id": v.CorrectOptionID})
	case models.MultiChoiceVariant:
		ids := make([]uint, 0, len(v.CorrectIDs))
		for id := range v.CorrectIDs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return marshal(map[string][]uint{"option_ids": ids})
	case models.OrderedVariant:
		return marshal(map[string][]uint{"option_ids": v.Canonical})
	case models.NumericVariant:
		return marshal(map[string]float64{"value": v.Answer, "tolerance_pct": v.TolerancePct})
	case models.OpenTextVariant:
		return marshal(map[string][]string{"texts": v.Accepted})
	}
	return nil
}

func (s *Session) handlePause() error {
	if s.paused {
		return fmt.Errorf("%w: already paused", ErrBadRequest)
	}
	s.paused = true

	var remaining int64
	if s.state == models.SessionStateItemOpen && s.runtime != nil {
		rt := s.runtime
		rt.remaining = rt.deadline.Sub(s.clock.Now())
		if rt.remaining < 0 {
			rt.remaining = 0
		}
		if rt.timer != nil {
			rt.timer.Stop()
			rt.timer = nil
		}
		remaining = rt.remaining.Milliseconds()
	}
	if s.state == models.SessionStateMinigame && s.mgTimer != nil {
		s.mgTimer.Stop()
		s.mgTimer = nil
	}

	s.broadcast(protocol.TypeSessionPaused, protocol.PausedPayload{RemainingMS: remaining})
	return nil
}

func (s *Session) handleResume() error {
	if !s.paused {
		return fmt.Errorf("%w: not paused", ErrBadRequest)
	}
	s.paused = false

	var remaining int64
	if s.state == models.SessionStateItemOpen && s.runtime != nil {
		rt := s.runtime
		rt.openedAt = s.clock.Now().Add(-(time.Duration(rt.item.TimerSeconds)*time.Second - rt.remaining))
		rt.deadline = s.clock.Now().Add(rt.remaining)
		s.armItemTimer(rt, rt.remaining)
		remaining = rt.remaining.Milliseconds()
	}
	if s.state == models.SessionStateMinigame && s.mg != nil {
		s.armMinigameTick(minigameTickInterval)
	}

	s.broadcast(protocol.TypeSessionResumed, protocol.PausedPayload{RemainingMS: remaining})
	return nil
}

func (s *Session) handleEnd(ctx context.Context) error {
	return s.endSession(ctx)
}

func (s *Session) endSession(ctx context.Context) error {
	if s.state == models.SessionStateEnded {
		return nil
	}
	s.stopTimers()
	now := s.clock.Now()
	s.row.EndedAt = &now
	s.state = models.SessionStateEnded

	if err := s.store.FinalizeSession(ctx, s.row.ID); err != nil {
		s.degrade(ctx, "finalize-session", err, func(opCtx context.Context) error {
			return s.store.FinalizeSession(opCtx, s.row.ID)
		})
	}

	s.broadcast(protocol.TypeSessionEnded, protocol.SessionEndedPayload{Entries: s.leaderboard(true)})
	s.mirror(ctx)
	return nil
}

func (s *Session) handleShowScoreboard(ctx context.Context, scope string) error {
	limit := 0
	switch scope {
	case "top3":
		limit = 3
	case "top5":
		limit = 5
	case "top10":
		limit = 10
	case "", "all":
		scope = "all"
	default:
		return fmt.Errorf("%w: unknown scoreboard scope %q", ErrBadRequest, scope)
	}

	entries := s.leaderboard(false)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	s.broadcast(protocol.TypeShowScoreboard, protocol.ScoreboardPayload{Scope: scope, Entries: entries})

	if s.state == models.SessionStateItemRevealed {
		s.state = models.SessionStateScoreboard
		s.mirror(ctx)
	}
	return nil
}

// mirror writes the durable state columns after a transition.
func (s *Session) mirror(ctx context.Context) {
	state := s.state
	if s.pendingOps > 0 {
		state = models.SessionStateDegraded
	}
	s.row.State = state
	s.saveStateMirror(ctx, state)
}

// --- minigame integration ---

// handleStartMinigame spins up the authoritative tick loop. item is non-nil
// when a minigame item is reached in the quiz; nil for a host ad-hoc start.
func (s *Session) handleStartMinigame(ctx context.Context, kind string, item *models.Item) error {
	switch s.state {
	case models.SessionStateMinigame:
		return fmt.Errorf("%w: minigame already running", ErrBadRequest)
	case models.SessionStateItemOpen:
		return fmt.Errorf("%w: an item is open", ErrItemNotOpen)
	}

	mode, err := minigame.ParseMode(kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	boats := make([]string, 0, len(s.players))
	for id, ps := range s.players {
		if ps.online() {
			boats = append(boats, id)
		}
	}
	if len(boats) == 0 {
		for id := range s.players {
			boats = append(boats, id)
		}
	}
	if len(boats) == 0 {
		return fmt.Errorf("%w: no players to race", ErrBadRequest)
	}

	s.epoch++
	itemID := fmt.Sprintf("adhoc-%d", s.epoch)
	duration := defaultMinigameSecs
	if item != nil {
		itemID = strconv.FormatUint(uint64(item.ID), 10)
		if item.TimerSeconds >= 10 {
			duration = item.TimerSeconds
		}
	}

	seed := s.row.Code + ":" + itemID
	s.mg = minigame.NewEngine(mode, seed, boats, duration)
	s.mgEpoch = s.epoch
	s.mgItemID = itemID
	s.mgInputs = make(map[string]minigame.Input, len(boats))
	s.state = models.SessionStateMinigame

	s.broadcast(protocol.TypeSwanChaseStarted, protocol.SwanChaseStartedPayload{
		ItemID:   itemID,
		Mode:     string(mode),
		Seed:     seed,
		World:    s.mg.World.JSON(),
		TickRate: minigame.TickRate,
		Boats:    s.mg.BoatIDs(),
	})
	s.mirror(ctx)
	s.armMinigameTick(minigameTickInterval)
	return nil
}

func (s *Session) armMinigameTick(d time.Duration) {
	epoch := s.mgEpoch
	s.mgTimer = s.clock.AfterFunc(d, func() {
		s.enqueue(minigameTickCmd{epoch: epoch})
	})
}

func (s *Session) handleMinigameInput(c MinigameInputCmd) {
	if s.state != models.SessionStateMinigame || s.mg == nil {
		return
	}
	if _, ok := s.players[c.PlayerID]; !ok {
		return
	}
	s.mgInputs[c.PlayerID] = minigame.Input{
		Thrust: c.Input.Thrust,
		Turn:   c.Input.Turn,
		Sprint: c.Input.Sprint,
		Dash:   c.Input.Dash,
		At:     c.At,
	}
}

func (s *Session) handleMinigameTick(ctx context.Context, epoch uint64) {
	if epoch != s.mgEpoch || s.state != models.SessionStateMinigame || s.paused || s.mg == nil {
		return
	}

	started := s.clock.Now()
	res := s.mg.Step(s.mgInputs, started)
	cost := s.clock.Since(started)

	interval := minigameTickInterval
	if cost > minigameTickBudget {
		s.logger.Warn("minigame tick overrun",
			zap.Uint64("tick", res.Tick),
			zap.Duration("cost", cost))
		if cost > 2*minigameTickBudget {
			// Skip a beat rather than falling permanently behind.
			interval = 2 * minigameTickInterval
		}
	}

	if res.Diff != nil {
		s.broadcast(protocol.TypeSwanChaseState, protocol.SwanChaseStatePayload{
			Tick:   res.Tick,
			Diff:   res.Diff,
			Events: res.Events,
		})
	}

	if res.Finished {
		s.endMinigame(ctx)
		return
	}
	s.armMinigameTick(interval)
}

// endMinigame feeds earned points into the session totals.
func (s *Session) endMinigame(ctx context.Context) {
	scores := s.mg.Scores()

	updated := make([]*models.SessionPlayer, 0, len(scores))
	for id, pts := range scores {
		ps, ok := s.players[id]
		if !ok || pts == 0 {
			continue
		}
		ps.row.Score += pts
		updated = append(updated, ps.row)
	}

	if len(updated) > 0 {
		if err := s.store.AddScores(ctx, updated); err != nil {
			s.degrade(ctx, "minigame-scores", err, func(opCtx context.Context) error {
				return s.store.AddScores(opCtx, updated)
			})
		}
	}

	s.mg = nil
	s.mgTimer = nil
	s.state = models.SessionStateItemRevealed
	s.broadcast(protocol.TypeLeaderboardUpdate, protocol.LeaderboardPayload{Entries: s.leaderboard(true)})
	s.mirror(ctx)
}
