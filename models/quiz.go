// models/quiz.go - Quiz authoring entities (read-only during play)
package models

import (
	"encoding/json"
	"time"
)

// Item kinds within a round.
const (
	ItemKindQuestion   = "question"
	ItemKindBreak      = "break"
	ItemKindScoreboard = "scoreboard"
	ItemKindMinigame   = "minigame"
)

// Question types. Year guesses grade as numeric estimation; title and artist
// guesses grade as open text.
const (
	QuestionSingleChoice = "choice-single"
	QuestionMultiChoice  = "choice-multi"
	QuestionTrueFalse    = "true-false"
	QuestionPoll         = "poll"
	QuestionOrdered      = "ordered"
	QuestionNumeric      = "numeric"
	QuestionOpenText     = "open-text"
	QuestionYearGuess    = "year-guess"
	QuestionTitleGuess   = "title-guess"
	QuestionArtistGuess  = "artist-guess"
)

// Quiz is the authored unit a session is created from.
type Quiz struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	Title string `json:"title" gorm:"size:200"`

	// StructureVersion is bumped on any structural edit (reorder, add/remove
	// items, item setting changes). Sessions snapshot the version at creation;
	// a mismatch marks the session archived.
	StructureVersion int `json:"structure_version" gorm:"default:1"`

	ScoringSettingsJSON string `json:"-" gorm:"type:text"`

	Rounds []Round `json:"rounds,omitempty" gorm:"foreignKey:QuizID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Round is an ordered group of items.
type Round struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	QuizID   uint   `json:"quiz_id" gorm:"index;not null"`
	Title    string `json:"title" gorm:"size:200"`
	Position int    `json:"position" gorm:"index"`

	Items []Item `json:"items,omitempty" gorm:"foreignKey:RoundID"`
}

// Item is one entry in a round: a question, a break card, a scoreboard, or a
// minigame. Per-item overrides shadow the quiz defaults.
type Item struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	RoundID  uint   `json:"round_id" gorm:"index;not null"`
	Position int    `json:"position" gorm:"index"`
	Kind     string `json:"kind" gorm:"size:20;not null"`

	QuestionID *uint     `json:"question_id"`
	Question   *Question `json:"question,omitempty" gorm:"foreignKey:QuestionID"`

	TimerSeconds    int    `json:"timer_seconds" gorm:"default:4"`
	BasePoints      int    `json:"base_points" gorm:"default:10"`
	ShowExplanation bool   `json:"show_explanation" gorm:"default:true"`
	MinigameKind    string `json:"minigame_kind,omitempty" gorm:"size:30"`
}

// Question carries the prompt and the option list whose field meanings depend
// on the question type (see Variant).
type Question struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Type        string `json:"type" gorm:"size:30;not null"`
	Prompt      string `json:"prompt" gorm:"type:text"`
	Explanation string `json:"explanation,omitempty" gorm:"type:text"`
	MediaJSON   string `json:"-" gorm:"type:text"`

	Options []Option `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}

// Option is one row of a question's option list. The historical encoding
// reinterprets (Text, IsCorrect, Ord) per question type and must be preserved
// as-is to keep persisted quizzes loadable.
type Option struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"index;not null"`
	Text       string `json:"text" gorm:"type:text"`
	IsCorrect  bool   `json:"is_correct"`
	Ord        int    `json:"order" gorm:"column:ord"`
}

func (Quiz) TableName() string     { return "quizzes" }
func (Round) TableName() string    { return "rounds" }
func (Item) TableName() string     { return "items" }
func (Question) TableName() string { return "questions" }
func (Option) TableName() string   { return "options" }

// ScoringSettings are copied onto the session at creation.
type ScoringSettings struct {
	StreakBonus         bool  `json:"streak_bonus"`
	StreakBonusPoints   int   `json:"streak_bonus_points"`
	SpeedPodium         bool  `json:"speed_podium"`
	SpeedPodiumPercents []int `json:"speed_podium_percents"`
}

// DefaultScoringSettings returns the platform defaults. Both modifiers are
// opt-in per quiz.
func DefaultScoringSettings() ScoringSettings {
	return ScoringSettings{
		StreakBonus:         false,
		StreakBonusPoints:   5,
		SpeedPodium:         false,
		SpeedPodiumPercents: []int{30, 20, 10},
	}
}

// GetScoringSettings decodes the quiz's settings blob, falling back to the
// defaults when unset.
func (q *Quiz) GetScoringSettings() ScoringSettings {
	if q.ScoringSettingsJSON == "" {
		return DefaultScoringSettings()
	}
	var s ScoringSettings
	if err := json.Unmarshal([]byte(q.ScoringSettingsJSON), &s); err != nil {
		return DefaultScoringSettings()
	}
	if len(s.SpeedPodiumPercents) == 0 {
		s.SpeedPodiumPercents = []int{30, 20, 10}
	}
	return s
}

// SetScoringSettings encodes the settings blob.
func (q *Quiz) SetScoringSettings(s ScoringSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	q.ScoringSettingsJSON = string(data)
	return nil
}

// Media decodes the question's media reference list.
func (q *Question) Media() []string {
	if q.MediaJSON == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(q.MediaJSON), &refs); err != nil {
		return nil
	}
	return refs
}

// ItemCount returns the total number of items across all rounds.
func (q *Quiz) ItemCount() int {
	n := 0
	for _, r := range q.Rounds {
		n += len(r.Items)
	}
	return n
}

// ItemAt returns the item at (round, item) or nil when out of range.
func (q *Quiz) ItemAt(round, item int) *Item {
	if round < 0 || round >= len(q.Rounds) {
		return nil
	}
	r := &q.Rounds[round]
	if item < 0 || item >= len(r.Items) {
		return nil
	}
	return &r.Items[item]
}

// NextIndex advances (round, item) by one, returning ok=false past the end.
func (q *Quiz) NextIndex(round, item int) (int, int, bool) {
	if round < 0 || round >= len(q.Rounds) {
		return 0, 0, false
	}
	if item+1 < len(q.Rounds[round].Items) {
		return round, item + 1, true
	}
	for r := round + 1; r < len(q.Rounds); r++ {
		if len(q.Rounds[r].Items) > 0 {
			return r, 0, true
		}
	}
	return 0, 0, false
}
