package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"partyquiz/models"
)

func TestPoints(t *testing.T) {
	timer := 10 * time.Second

	tests := []struct {
		name     string
		base     int
		fraction float64
		elapsed  time.Duration
		want     int
	}{
		{"instant full credit", 10, 1.0, 0, 10},
		{"full credit at two seconds", 10, 1.0, 2 * time.Second, 9},
		{"full credit at the buzzer", 10, 1.0, 10 * time.Second, 5},
		{"half credit midway", 10, 0.5, 5 * time.Second, 4},
		{"zero fraction", 10, 0, 2 * time.Second, 0},
		{"late answer clamps to duration", 10, 1.0, 15 * time.Second, 5},
		{"negative elapsed clamps to zero", 10, 1.0, -time.Second, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Points(tt.base, tt.fraction, timer, tt.elapsed))
		})
	}
}

func TestPointsScenarioOpenText(t *testing.T) {
	// Full credit at t=4s of an 8s timer pays round(10 * 0.75) = 8.
	assert.Equal(t, 8, Points(10, 1.0, 8*time.Second, 4*time.Second))
}

func TestStreakAfter(t *testing.T) {
	assert.Equal(t, 3, StreakAfter(1.0, 2))
	assert.Equal(t, 0, StreakAfter(0.99, 5), "partial credit resets the streak")
	assert.Equal(t, 0, StreakAfter(0, 5))
	assert.Equal(t, 1, StreakAfter(1.0, 0))
}

func TestStreakBonus(t *testing.T) {
	on := models.ScoringSettings{StreakBonus: true, StreakBonusPoints: 5}
	off := models.ScoringSettings{StreakBonus: false, StreakBonusPoints: 5}

	assert.Equal(t, 15, StreakBonus(on, 1.0, 3))
	assert.Equal(t, 0, StreakBonus(on, 0.9, 3), "only full credit earns the bonus")
	assert.Equal(t, 0, StreakBonus(off, 1.0, 3))
	assert.Equal(t, 0, StreakBonus(on, 1.0, 0))
}

func TestSpeedPodium(t *testing.T) {
	candidates := []PodiumCandidate{
		{PlayerID: "p2", Elapsed: time.Second},
		{PlayerID: "p1", Elapsed: time.Second},
		{PlayerID: "p3", Elapsed: 2 * time.Second},
		{PlayerID: "p4", Elapsed: 3 * time.Second},
	}

	awards := SpeedPodium(10, []int{30, 20, 10}, candidates)
	assert.Len(t, awards, 3)

	// Equal times break on the lower player id.
	assert.Equal(t, "p1", awards[0].PlayerID)
	assert.Equal(t, 3, awards[0].Bonus)
	assert.Equal(t, "p2", awards[1].PlayerID)
	assert.Equal(t, 2, awards[1].Bonus)
	assert.Equal(t, "p3", awards[2].PlayerID)
	assert.Equal(t, 1, awards[2].Bonus)
}

func TestSpeedPodiumFewerCandidatesThanRanks(t *testing.T) {
	awards := SpeedPodium(10, []int{30, 20, 10}, []PodiumCandidate{
		{PlayerID: "p1", Elapsed: time.Second},
	})
	assert.Len(t, awards, 1)
	assert.Equal(t, 1, awards[0].Rank)

	assert.Nil(t, SpeedPodium(10, []int{30, 20, 10}, nil))
	assert.Nil(t, SpeedPodium(0, []int{30}, []PodiumCandidate{{PlayerID: "p1"}}))
}
