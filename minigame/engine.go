// minigame/engine.go - Authoritative Swan Chase simulation
package minigame

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Modes.
type Mode string

const (
	ModeClassic    Mode = "classic"      // boats dodge swans, survival scoring
	ModeKingOfLake Mode = "king-of-lake" // tagged boats are out, last boat standing
	ModeSwanSwarm  Mode = "swan-swarm"   // AI swan waves, survive as long as possible
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeClassic, ModeKingOfLake, ModeSwanSwarm:
		return Mode(s), nil
	case "":
		return ModeClassic, nil
	}
	return "", fmt.Errorf("unknown minigame mode %q", s)
}

// Simulation rates.
const (
	TickRate  = 30 // authoritative ticks per second
	DiffEvery = 2  // state diff broadcast every 2nd tick (15 Hz)

	tickDT = 1.0 / TickRate
)

// InputStaleness is the age past which a held input reads as zero.
const InputStaleness = 250 * time.Millisecond

// Physics tuning. Units are world units and seconds.
const (
	boatRadius = 1.6
	swanRadius = 1.2
	tagRadius  = 2.4

	boatAccel    = 28.0
	boatMaxSpeed = 18.0
	boatTurnRate = 3.2 // rad/s at full turn input
	waterDrag    = 1.8 // per-second velocity decay factor

	sprintBoost     = 1.6
	sprintTicks     = 45  // 1.5 s burst
	sprintCooldown  = 180 // 6 s
	dashImpulse     = 14.0
	dashCooldown    = 120 // 4 s
	ghostTicks      = 90  // 3 s non-interactive after a tag
	swanSpeed       = 15.0
	swanTurnRate    = 2.4
	collisionDamp   = 0.4
	swarmWaveTicks  = 15 * TickRate
	survivalEvery   = TickRate // classic: +1/s alive
	swarmWaveBonus  = 3
	lastBoatBonus   = 5
	eliminationStep = 2
)

// Input is the latest control state received from one player.
type Input struct {
	Thrust float64
	Turn   float64
	Sprint bool
	Dash   bool
	At     time.Time
}

// Boat is one player-controlled vessel.
type Boat struct {
	ID    string
	Pos   Vec2
	Vel   Vec2
	Angle float64

	Alive      bool
	GhostUntil uint64 // tick at which ghost state ends
	King       bool

	sprintUntil uint64
	sprintReady uint64
	dashReady   uint64

	Score int
}

// Swan is an AI-driven chaser.
type Swan struct {
	Pos   Vec2
	Vel   Vec2
	Angle float64

	wanderAt  uint64
	wanderDir float64
}

// Engine steps the simulation. It owns no goroutines and does no I/O; the
// session actor calls Step on its tick schedule, so the engine needs no
// locking.
type Engine struct {
	Mode  Mode
	Seed  string
	World *World

	rng           *rand.Rand
	tick          uint64
	durationTicks uint64

	boats  []*Boat // ordered by player id for deterministic iteration
	byID   map[string]*Boat
	swans  []*Swan
	wave   int
	downed int // king mode: boats eliminated so far

	finished bool
}

// NewEngine builds a simulation for the given players. The same seed and
// player set always produce an identical world and spawn layout.
func NewEngine(mode Mode, seed string, playerIDs []string, durationSeconds int) *Engine {
	if durationSeconds <= 0 {
		durationSeconds = 60
	}

	e := &Engine{
		Mode:          mode,
		Seed:          seed,
		World:         GenerateWorld(seed),
		rng:           rand.New(rand.NewSource(seedInt64(seed, 1))),
		durationTicks: uint64(durationSeconds * TickRate),
		byID:          make(map[string]*Boat, len(playerIDs)),
	}

	ids := make([]string, len(playerIDs))
	copy(ids, playerIDs)
	sort.Strings(ids)

	for i, id := range ids {
		// Boats line up along the bottom edge, facing up-lake.
		x := e.World.Width * (float64(i) + 1) / (float64(len(ids)) + 1)
		boat := &Boat{
			ID:    id,
			Pos:   Vec2{X: x, Y: e.World.Height - 6},
			Angle: -math.Pi / 2,
			Alive: true,
		}
		e.boats = append(e.boats, boat)
		e.byID[id] = boat
	}

	e.spawnWave(1)
	return e
}

// spawnWave places swans for the wave along the top edge. Positions derive
// from the seed and wave number so replays match.
func (e *Engine) spawnWave(wave int) {
	e.wave = wave

	count := 1
	switch e.Mode {
	case ModeKingOfLake:
		count = 2
	case ModeSwanSwarm:
		count = wave + 1
	}

	rng := rand.New(rand.NewSource(seedInt64(e.Seed, uint64(wave)<<16)))
	for i := 0; i < count; i++ {
		e.swans = append(e.swans, &Swan{
			Pos:   Vec2{X: 10 + rng.Float64()*(e.World.Width-20), Y: 6},
			Angle: math.Pi / 2,
		})
	}
}

// Finished reports whether the simulation has ended.
func (e *Engine) Finished() bool { return e.finished }

// Tick returns the current tick number.
func (e *Engine) Tick() uint64 { return e.tick }

// BoatIDs returns the participating player ids in deterministic order.
func (e *Engine) BoatIDs() []string {
	ids := make([]string, 0, len(e.boats))
	for _, b := range e.boats {
		ids = append(ids, b.ID)
	}
	return ids
}

// Scores returns the per-player points earned so far. Called by the session
// at minigame end to feed totals.
func (e *Engine) Scores() map[string]int {
	scores := make(map[string]int, len(e.boats))
	for _, b := range e.boats {
		scores[b.ID] = b.Score
	}
	return scores
}

// StepResult is the outcome of one tick. Diff is nil on off-beat ticks.
type StepResult struct {
	Tick     uint64
	Diff     json.RawMessage
	Events   []string
	Finished bool
}

type boatState struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
	Ghost bool    `json:"ghost,omitempty"`
	Alive bool    `json:"alive"`
	King  bool    `json:"king,omitempty"`
	Score int     `json:"score"`
}

type swanState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

type stateDiff struct {
	Boats     []boatState `json:"boats"`
	Swans     []swanState `json:"swans"`
	Wave      int         `json:"wave,omitempty"`
	Remaining int         `json:"remaining_s"`
}

// Step advances the simulation one tick. Inputs older than InputStaleness at
// tick time read as zero (most-recent-wins per player).
func (e *Engine) Step(inputs map[string]Input, now time.Time) StepResult {
	if e.finished {
		return StepResult{Tick: e.tick, Finished: true}
	}
	e.tick++

	var events []string

	for _, boat := range e.boats {
		in := inputs[boat.ID]
		if now.Sub(in.At) > InputStaleness {
			in = Input{}
		}
		e.stepBoat(boat, in)
	}

	for _, swan := range e.swans {
		e.stepSwan(swan)
	}

	events = append(events, e.resolveTags()...)
	events = append(events, e.stepMode()...)

	if e.tick >= e.durationTicks {
		events = append(events, e.finish()...)
	}

	res := StepResult{Tick: e.tick, Events: events, Finished: e.finished}
	if e.tick%DiffEvery == 0 || e.finished {
		res.Diff = e.diff()
	}
	return res
}

func (e *Engine) stepBoat(b *Boat, in Input) {
	if !b.Alive || e.ghosted(b) {
		b.Vel = b.Vel.Scale(1 - waterDrag*tickDT)
		return
	}

	if in.Turn > 1 {
		in.Turn = 1
	}
	if in.Turn < -1 {
		in.Turn = -1
	}
	if in.Thrust < 0 {
		in.Thrust = 0
	}
	if in.Thrust > 1 {
		in.Thrust = 1
	}

	b.Angle += in.Turn * boatTurnRate * tickDT

	accel := in.Thrust * boatAccel
	maxSpeed := boatMaxSpeed
	if in.Sprint && e.tick >= b.sprintReady {
		b.sprintUntil = e.tick + sprintTicks
		b.sprintReady = e.tick + sprintCooldown
	}
	if e.tick < b.sprintUntil {
		accel *= sprintBoost
		maxSpeed *= sprintBoost
	}

	dir := Heading(b.Angle)
	b.Vel = b.Vel.Add(dir.Scale(accel * tickDT))
	if in.Dash && e.tick >= b.dashReady {
		b.Vel = b.Vel.Add(dir.Scale(dashImpulse))
		b.dashReady = e.tick + dashCooldown
	}

	b.Vel = b.Vel.Scale(1 - waterDrag*tickDT)
	if speed := b.Vel.Len(); speed > maxSpeed {
		b.Vel = b.Vel.Norm().Scale(maxSpeed)
	}

	b.Pos = b.Pos.Add(b.Vel.Scale(tickDT))
	if corrected, hit := e.World.ResolveCollision(b.Pos, boatRadius); hit {
		b.Pos = corrected
		b.Vel = b.Vel.Scale(collisionDamp)
	}
}

func (e *Engine) stepSwan(s *Swan) {
	target, ok := e.nearestTaggable(s.Pos)

	var want float64
	if ok {
		to := target.Sub(s.Pos)
		want = math.Atan2(to.Y, to.X)
	} else {
		// No chaseable boat: wander, re-rolling direction every 2 s.
		if e.tick >= s.wanderAt {
			s.wanderDir = e.rng.Float64() * 2 * math.Pi
			s.wanderAt = e.tick + 2*TickRate
		}
		want = s.wanderDir
	}

	delta := math.Remainder(want-s.Angle, 2*math.Pi)
	maxTurn := swanTurnRate * tickDT
	if delta > maxTurn {
		delta = maxTurn
	}
	if delta < -maxTurn {
		delta = -maxTurn
	}
	s.Angle += delta

	s.Vel = Heading(s.Angle).Scale(swanSpeed)
	s.Pos = s.Pos.Add(s.Vel.Scale(tickDT))
	if corrected, hit := e.World.ResolveCollision(s.Pos, swanRadius); hit {
		s.Pos = corrected
	}
}

// nearestTaggable finds the closest boat a swan may chase: alive, not
// ghosted, outside safe zones.
func (e *Engine) nearestTaggable(from Vec2) (Vec2, bool) {
	best := math.MaxFloat64
	var target Vec2
	found := false
	for _, b := range e.boats {
		if !b.Alive || e.ghosted(b) || e.World.InSafeZone(b.Pos) {
			continue
		}
		if d := from.Dist(b.Pos); d < best {
			best, target, found = d, b.Pos, true
		}
	}
	return target, found
}

func (e *Engine) ghosted(b *Boat) bool {
	return e.tick < b.GhostUntil
}

func (e *Engine) resolveTags() []string {
	var events []string
	for _, swan := range e.swans {
		for _, boat := range e.boats {
			if !boat.Alive || e.ghosted(boat) || e.World.InSafeZone(boat.Pos) {
				continue
			}
			if swan.Pos.Dist(boat.Pos) > tagRadius {
				continue
			}
			events = append(events, e.applyTag(boat)...)
		}
	}
	return events
}

func (e *Engine) applyTag(b *Boat) []string {
	events := []string{"tag:" + b.ID}

	switch e.Mode {
	case ModeKingOfLake:
		b.Alive = false
		b.Score = e.downed * eliminationStep
		e.downed++
		events = append(events, "eliminated:"+b.ID)

		if alive := e.aliveBoats(); len(alive) == 1 {
			winner := alive[0]
			winner.King = true
			winner.Score = e.downed*eliminationStep + lastBoatBonus
			events = append(events, "king:"+winner.ID)
			e.finished = true
		}
	default:
		b.GhostUntil = e.tick + ghostTicks
	}
	return events
}

func (e *Engine) aliveBoats() []*Boat {
	var alive []*Boat
	for _, b := range e.boats {
		if b.Alive {
			alive = append(alive, b)
		}
	}
	return alive
}

// stepMode applies per-mode periodic scoring and wave progression.
func (e *Engine) stepMode() []string {
	var events []string

	switch e.Mode {
	case ModeClassic, ModeSwanSwarm:
		if e.tick%survivalEvery == 0 {
			for _, b := range e.boats {
				if b.Alive && !e.ghosted(b) {
					b.Score++
				}
			}
		}
	}

	if e.Mode == ModeSwanSwarm && e.tick%swarmWaveTicks == 0 {
		for _, b := range e.boats {
			if b.Alive {
				b.Score += swarmWaveBonus
			}
		}
		e.spawnWave(e.wave + 1)
		events = append(events, fmt.Sprintf("wave:%d", e.wave))
	}

	return events
}

// finish settles end-of-time scoring. King mode survivors rank above every
// eliminated boat, ties broken by player id for determinism.
func (e *Engine) finish() []string {
	var events []string
	if e.Mode == ModeKingOfLake && !e.finished {
		for _, b := range e.aliveBoats() {
			b.Score = e.downed*eliminationStep + lastBoatBonus
		}
	}
	e.finished = true
	events = append(events, "finished")
	return events
}

func (e *Engine) diff() json.RawMessage {
	d := stateDiff{Wave: e.wave}
	if e.tick < e.durationTicks {
		d.Remaining = int((e.durationTicks - e.tick) / TickRate)
	}
	for _, b := range e.boats {
		d.Boats = append(d.Boats, boatState{
			ID:    b.ID,
			X:     round2(b.Pos.X),
			Y:     round2(b.Pos.Y),
			Angle: round2(b.Angle),
			Ghost: e.ghosted(b),
			Alive: b.Alive,
			King:  b.King,
			Score: b.Score,
		})
	}
	for _, s := range e.swans {
		d.Swans = append(d.Swans, swanState{
			X:     round2(s.Pos.X),
			Y:     round2(s.Pos.Y),
			Angle: round2(s.Angle),
		})
	}
	data, _ := json.Marshal(d)
	return data
}

// round2 trims wire noise to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
