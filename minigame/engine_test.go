package minigame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeClassic, m)

	for _, s := range []string{"classic", "king-of-lake", "swan-swarm"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}

	_, err = ParseMode("battle-royale")
	assert.Error(t, err)
}

func TestEngineDeterminism(t *testing.T) {
	players := []string{"p2", "p1", "p3"}
	now := time.Now()

	run := func() []StepResult {
		e := NewEngine(ModeClassic, "ABC234:item-1", players, 10)
		var results []StepResult
		for i := 0; i < 5*TickRate; i++ {
			at := now.Add(time.Duration(i) * time.Second / TickRate)
			inputs := map[string]Input{
				"p1": {Thrust: 1, Turn: 0.5, At: at},
				"p2": {Thrust: 0.5, Turn: -1, Sprint: true, At: at},
			}
			results = append(results, e.Step(inputs, at))
		}
		return results
	}

	a, b := run(), run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Tick, b[i].Tick)
		assert.Equal(t, string(a[i].Diff), string(b[i].Diff), "tick %d diverged", a[i].Tick)
		assert.Equal(t, a[i].Events, b[i].Events)
	}
}

func TestEngineSeedChangesWorld(t *testing.T) {
	a := GenerateWorld("ABC234:item-1")
	b := GenerateWorld("XYZ789:item-1")
	assert.NotEqual(t, string(a.JSON()), string(b.JSON()))

	// Same seed, same world.
	c := GenerateWorld("ABC234:item-1")
	assert.Equal(t, string(a.JSON()), string(c.JSON()))
}

func TestPushOutEscapesPolygonInterior(t *testing.T) {
	square := Obstacle{Points: []Vec2{
		{X: 10, Y: 10}, {X: 30, Y: 10}, {X: 30, Y: 30}, {X: 10, Y: 30},
	}}

	// A center already inside must be ejected past the nearest edge, not
	// pushed deeper in.
	inside := Vec2{X: 12, Y: 20}
	out, hit := pushOut(inside, 1.6, square)
	require.True(t, hit)
	assert.False(t, pointInPolygon(out, square.Points))
	assert.InDelta(t, 10-1.6, out.X, 1e-9)
	assert.InDelta(t, 20.0, out.Y, 1e-9)

	// Grazing the edge from outside resolves to radius off the surface.
	grazing := Vec2{X: 9, Y: 20}
	out, hit = pushOut(grazing, 1.6, square)
	require.True(t, hit)
	assert.InDelta(t, 10-1.6, out.X, 1e-9)

	// Clear of the polygon is untouched.
	far := Vec2{X: 5, Y: 20}
	got, hit := pushOut(far, 1.6, square)
	assert.False(t, hit)
	assert.Equal(t, far, got)
}

func TestEngineBoatOrderIsSorted(t *testing.T) {
	e := NewEngine(ModeClassic, "seed", []string{"zeta", "alpha", "mike"}, 10)
	assert.Equal(t, []string{"alpha", "mike", "zeta"}, e.BoatIDs())
}

func TestEngineDiffCadence(t *testing.T) {
	e := NewEngine(ModeClassic, "seed", []string{"p1"}, 10)
	now := time.Now()

	for i := 1; i <= 6; i++ {
		res := e.Step(nil, now)
		if res.Tick%DiffEvery == 0 {
			assert.NotNil(t, res.Diff, "tick %d should carry a diff", res.Tick)
		} else {
			assert.Nil(t, res.Diff, "tick %d is an off-beat tick", res.Tick)
		}
	}
}

func TestEngineStaleInputReadsAsZero(t *testing.T) {
	now := time.Now()

	fresh := NewEngine(ModeClassic, "seed", []string{"p1"}, 10)
	stale := NewEngine(ModeClassic, "seed", []string{"p1"}, 10)
	idle := NewEngine(ModeClassic, "seed", []string{"p1"}, 10)

	// Two ticks so the comparison lands on a diff-carrying tick.
	var freshRes, staleRes, idleRes StepResult
	for i := 0; i < DiffEvery; i++ {
		freshRes = fresh.Step(map[string]Input{"p1": {Thrust: 1, At: now}}, now)
		staleRes = stale.Step(map[string]Input{"p1": {Thrust: 1, At: now.Add(-time.Second)}}, now)
		idleRes = idle.Step(nil, now)
	}

	assert.NotEqual(t, string(freshRes.Diff), string(staleRes.Diff))
	assert.Equal(t, string(idleRes.Diff), string(staleRes.Diff), "stale input behaves like no input")
}

func TestEngineClassicSurvivalScoring(t *testing.T) {
	e := NewEngine(ModeClassic, "seed", []string{"p1"}, 10)
	now := time.Now()

	// One full second of ticks awards one survival point.
	for i := 0; i < TickRate; i++ {
		e.Step(nil, now)
	}
	assert.Equal(t, 1, e.Scores()["p1"])
}

func TestEngineFinishesAtDuration(t *testing.T) {
	e := NewEngine(ModeClassic, "seed", []string{"p1"}, 1)
	now := time.Now()

	var finished bool
	for i := 0; i < TickRate+5; i++ {
		res := e.Step(nil, now)
		if res.Finished {
			finished = true
			assert.NotNil(t, res.Diff, "the final tick always carries a diff")
			break
		}
	}
	assert.True(t, finished)
	assert.True(t, e.Finished())

	// Stepping a finished engine is inert.
	tick := e.Tick()
	res := e.Step(nil, now)
	assert.Equal(t, tick, res.Tick)
	assert.True(t, res.Finished)
}

func TestEngineKingOfLakeElimination(t *testing.T) {
	e := NewEngine(ModeKingOfLake, "seed", []string{"p1", "p2"}, 60)

	// Force tags directly to exercise the elimination ladder.
	first := e.byID["p1"]
	events := e.applyTag(first)
	assert.Contains(t, events, "eliminated:p1")
	assert.False(t, first.Alive)
	assert.Equal(t, 0, first.Score, "first boat down scores zero")

	// One boat left: it becomes king and the game ends.
	assert.True(t, e.Finished())
	king := e.byID["p2"]
	assert.True(t, king.King)
	assert.Equal(t, eliminationStep+lastBoatBonus, king.Score)
	assert.Contains(t, events, "king:p2")
}

func TestEngineClassicTagGhosts(t *testing.T) {
	e := NewEngine(ModeClassic, "seed", []string{"p1"}, 60)
	b := e.byID["p1"]

	events := e.applyTag(b)
	assert.Equal(t, []string{"tag:p1"}, events)
	assert.True(t, b.Alive, "classic mode never eliminates")
	assert.True(t, e.ghosted(b))
	assert.Equal(t, e.tick+ghostTicks, b.GhostUntil)
}

func TestWorldCollisionKeepsActorsInBounds(t *testing.T) {
	w := GenerateWorld("seed")

	corrected, hit := w.ResolveCollision(Vec2{X: -5, Y: 50}, boatRadius)
	assert.True(t, hit)
	assert.GreaterOrEqual(t, corrected.X, boatRadius)

	_, hit = w.ResolveCollision(Vec2{X: w.Width / 2, Y: w.Height - 6}, boatRadius)
	assert.False(t, hit, "the spawn row must be clear")
}
