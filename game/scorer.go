// game/scorer.go - Deterministic point computation
package game

import (
	"math"
	"sort"
	"time"

	"partyquiz/models"
)

// Points computes the award for one graded answer. A full-credit answer at
// t=0 earns the base; at t=T it earns half, rounded; partial credit scales
// linearly.
func Points(base int, fraction float64, duration, elapsed time.Duration) int {
	if fraction <= 0 || base <= 0 || duration <= 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > duration {
		elapsed = duration
	}
	t := elapsed.Seconds() / duration.Seconds()
	return int(math.Round(float64(base) * fraction * (0.5 + 0.5*(1-t))))
}

// StreakAfter returns the player's streak after this item: extended only by
// full credit, reset by anything less.
func StreakAfter(fraction float64, prior int) int {
	if fraction >= 1.0 {
		return prior + 1
	}
	return 0
}

// StreakBonus returns the streak bonus points for the new streak length.
func StreakBonus(settings models.ScoringSettings, fraction float64, newStreak int) int {
	if !settings.StreakBonus || fraction < 1.0 || newStreak <= 0 {
		return 0
	}
	return settings.StreakBonusPoints * newStreak
}

// PodiumCandidate is a full-credit answer eligible for the speed podium.
type PodiumCandidate struct {
	PlayerID string
	Elapsed  time.Duration
}

// PodiumAward is a granted speed bonus.
type PodiumAward struct {
	PlayerID string
	Rank     int
	Bonus    int
	Elapsed  time.Duration
}

// SpeedPodium ranks full-credit answers by ascending response time and pays
// the configured percentages of the base to the top three. Ties break on the
// lower player id so results are deterministic.
func SpeedPodium(base int, percents []int, candidates []PodiumCandidate) []PodiumAward {
	if base <= 0 || len(percents) == 0 || len(candidates) == 0 {
		return nil
	}

	sorted := make([]PodiumCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Elapsed != sorted[j].Elapsed {
			return sorted[i].Elapsed < sorted[j].Elapsed
		}
		return sorted[i].PlayerID < sorted[j].PlayerID
	})

	n := len(percents)
	if len(sorted) < n {
		n = len(sorted)
	}

	awards := make([]PodiumAward, 0, n)
	for i := 0; i < n; i++ {
		bonus := int(math.Round(float64(base) * float64(percents[i]) / 100))
		awards = append(awards, PodiumAward{
			PlayerID: sorted[i].PlayerID,
			Rank:     i + 1,
			Bonus:    bonus,
			Elapsed:  sorted[i].Elapsed,
		})
	}
	return awards
}
