// protocol/payloads.go - Typed payloads for envelope messages
package protocol

import "encoding/json"

// Roles a connection can hold within a session room.
const (
	RoleHost    = "host"
	RolePlayer  = "player"
	RoleDisplay = "display"
)

// Client payloads

type JoinPayload struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Token  string `json:"token,omitempty"`
}

type AnswerPayload struct {
	ItemID string          `json:"item_id"`
	Answer json.RawMessage `json:"answer"`
}

type ShowScoreboardPayload struct {
	Scope string `json:"scope"` // top3, top5, top10, all
}

type StartMinigamePayload struct {
	Kind string `json:"kind"` // classic, king-of-lake, swan-swarm
}

type MinigameInputPayload struct {
	Thrust float64 `json:"thrust"` // 0..1
	Turn   float64 `json:"turn"`   // -1..1
	Sprint bool    `json:"sprint"`
	Dash   bool    `json:"dash"`
}

// Server payloads

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PlayerJoinedPayload struct {
	PlayerID    string `json:"player_id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	Token       string `json:"token,omitempty"` // only on the direct reply
	PlayerCount int    `json:"player_count"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Reason   string `json:"reason,omitempty"`
}

type ItemOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type ItemStartedPayload struct {
	RoundIndex   int          `json:"round_index"`
	ItemIndex    int          `json:"item_index"`
	ItemID       string       `json:"item_id"`
	Kind         string       `json:"kind"`
	QuestionType string       `json:"question_type,omitempty"`
	Prompt       string       `json:"prompt,omitempty"`
	Options      []ItemOption `json:"options,omitempty"`
	Media        []string     `json:"media,omitempty"`
	TimerSeconds int          `json:"timer_seconds"`
	DeadlineMS   int64        `json:"deadline_ms"`
	BasePoints   int          `json:"base_points"`
}

type ItemLockedPayload struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"` // timer, host, all-answered, cancelled
}

type ItemCancelledPayload struct {
	ItemID string `json:"item_id"`
}

type AnswerReceivedPayload struct {
	ItemID    string `json:"item_id"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type AnswerCountPayload struct {
	ItemID   string `json:"item_id"`
	Answered int    `json:"answered"`
	Online   int    `json:"online"`
}

// PlayerResult is one player's graded outcome for an item.
type PlayerResult struct {
	PlayerID    string          `json:"player_id"`
	Name        string          `json:"name"`
	Correctness string          `json:"correctness"`
	Fraction    float64         `json:"fraction"`
	Points      int             `json:"points"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	Streak      int             `json:"streak"`
}

type RevealPayload struct {
	ItemID       string          `json:"item_id"`
	QuestionType string          `json:"question_type,omitempty"`
	Correct      json.RawMessage `json:"correct,omitempty"`
	Explanation  string          `json:"explanation,omitempty"`
	Results      []PlayerResult  `json:"results"`
	PollCounts   map[string]int  `json:"poll_counts,omitempty"`
}

type PodiumAward struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	Rank      int    `json:"rank"`
	Bonus     int    `json:"bonus"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type SpeedPodiumPayload struct {
	ItemID string        `json:"item_id"`
	Awards []PodiumAward `json:"awards"`
}

type LeaderboardEntry struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Score      int    `json:"score"`
	Rank       int    `json:"rank"`
	RankChange int    `json:"rank_change"`
	Streak     int    `json:"streak"`
	Online     bool   `json:"online"`
}

type LeaderboardPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type ScoreboardPayload struct {
	Scope   string             `json:"scope"`
	Entries []LeaderboardEntry `json:"entries"`
}

type SessionStatePayload struct {
	Code        string              `json:"code"`
	State       string              `json:"state"`
	Paused      bool                `json:"paused"`
	RoundIndex  int                 `json:"round_index"`
	ItemIndex   int                 `json:"item_index"`
	RoundTitle  string              `json:"round_title,omitempty"`
	Item        *ItemStartedPayload `json:"item,omitempty"`
	DeadlineMS  int64               `json:"deadline_ms,omitempty"`
	YouAnswered bool                `json:"you_answered,omitempty"`
	Players     []LeaderboardEntry  `json:"players"`
	TotalItems  int                 `json:"total_items"`
}

type SessionEndedPayload struct {
	Entries []LeaderboardEntry `json:"final_scores"`
}

type PausedPayload struct {
	RemainingMS int64 `json:"remaining_ms,omitempty"`
}

// Minigame payloads

type SwanChaseStartedPayload struct {
	ItemID   string          `json:"item_id"`
	Mode     string          `json:"mode"`
	Seed     string          `json:"seed"`
	World    json.RawMessage `json:"world"`
	TickRate int             `json:"tick_rate"`
	Boats    []string        `json:"boats"` // player ids with a boat
}

type SwanChaseStatePayload struct {
	Tick   uint64          `json:"tick"`
	Diff   json.RawMessage `json:"diff"`
	Events []string        `json:"events,omitempty"`
}
