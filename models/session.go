// models/session.go - Live session persistence (durable mirror of the actor state)
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Session states persisted in the sessions table.
const (
	SessionStateLobby        = "LOBBY"
	SessionStateItemOpen     = "ITEM_OPEN"
	SessionStateItemLocked   = "ITEM_LOCKED"
	SessionStateItemRevealed = "ITEM_REVEALED"
	SessionStateScoreboard   = "SCOREBOARD"
	SessionStateMinigame     = "MINIGAME_ACTIVE"
	SessionStateEnded        = "ENDED"
	SessionStateDegraded     = "DEGRADED"
)

// Lock reasons recorded when an item closes.
const (
	LockReasonTimer       = "timer"
	LockReasonHost        = "host"
	LockReasonAllAnswered = "all-answered"
	LockReasonCancelled   = "cancelled"
)

// Answer correctness values.
const (
	CorrectnessCorrect   = "correct"
	CorrectnessPartial   = "partial"
	CorrectnessIncorrect = "incorrect"
	CorrectnessUnscored  = "unscored"
)

// Session is one live playthrough of a quiz, addressed by a short join code.
// The quiz structure is snapshotted at creation; authoring edits afterwards
// never affect a running session.
type Session struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SessionID string `json:"session_id" gorm:"uniqueIndex;not null;size:100"`
	Code      string `json:"code" gorm:"index;not null;size:10"`
	QuizID    uint   `json:"quiz_id" gorm:"index;not null"`

	State        string `json:"state" gorm:"size:20;default:'LOBBY';index"`
	CurrentRound int    `json:"current_round" gorm:"default:0"`
	CurrentItem  int    `json:"current_item" gorm:"default:-1"`

	QuizStructureVersion int    `json:"quiz_structure_version"`
	QuizSnapshotJSON     string `json:"-" gorm:"type:text"`
	ScoringSettingsJSON  string `json:"-" gorm:"type:text"`

	// Bcrypt hash of the host owner token issued at creation.
	OwnerTokenHash string `json:"-" gorm:"size:100"`

	Archived  bool       `json:"archived" gorm:"default:false;index"`
	CreatedAt time.Time  `json:"created_at" gorm:"index"`
	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at" gorm:"index"`
	UpdatedAt time.Time  `json:"updated_at"`

	Players []SessionPlayer `json:"players,omitempty" gorm:"foreignKey:SessionRowID"`
}

// SessionPlayer is a player's lifetime membership in one session.
type SessionPlayer struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	SessionRowID uint   `json:"-" gorm:"index;not null;uniqueIndex:idx_session_player_name,priority:1"`
	PlayerID     string `json:"player_id" gorm:"uniqueIndex;not null;size:100"`

	Name string `json:"name" gorm:"size:50;not null"`
	// Case-folded name enforcing per-session uniqueness.
	NameFolded string `json:"-" gorm:"size:50;uniqueIndex:idx_session_player_name,priority:2"`
	Avatar     string `json:"avatar" gorm:"size:50"`
	Token      string `json:"-" gorm:"index;size:100"`

	Score  int `json:"score" gorm:"default:0"`
	Streak int `json:"streak" gorm:"default:0"`

	JoinedAt       time.Time  `json:"joined_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SessionAnswer is the at-most-one answer per (player, item). Points are
// finalized exactly once at reveal and never mutated afterwards.
type SessionAnswer struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	SessionRowID uint `json:"-" gorm:"index;not null"`
	PlayerRowID  uint `json:"-" gorm:"not null;uniqueIndex:idx_answer_player_item,priority:1"`
	ItemID       uint `json:"item_id" gorm:"not null;uniqueIndex:idx_answer_player_item,priority:2"`

	PayloadJSON    string  `json:"-" gorm:"type:text"`
	NormalizedJSON string  `json:"-" gorm:"type:text"`
	Correctness    string  `json:"correctness" gorm:"size:12;default:'unscored'"`
	Fraction       float64 `json:"fraction" gorm:"default:0"`
	Points         int     `json:"points" gorm:"default:0"`
	ReceivedMS     int64   `json:"received_ms"`
	Revealed       bool    `json:"revealed" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionEvent is an append-only per-session event row, used for debugging
// and crash rehydration.
type SessionEvent struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	SessionRowID uint   `json:"-" gorm:"index;not null"`
	EventType    string `json:"event_type" gorm:"size:40;index;not null"`
	PlayerID     string `json:"player_id,omitempty" gorm:"size:100"`
	PayloadJSON  string `json:"-" gorm:"type:text"`
	Seq          int64  `json:"seq" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string       { return "sessions" }
func (SessionPlayer) TableName() string { return "session_players" }
func (SessionAnswer) TableName() string { return "session_answers" }
func (SessionEvent) TableName() string  { return "session_events" }

// FoldName normalizes a display name for uniqueness checks.
func FoldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsActive reports whether the session still owns its join code.
func (s *Session) IsActive() bool {
	return !s.Archived && s.EndedAt == nil
}

// GetQuizSnapshot decodes the quiz structure captured at creation.
func (s *Session) GetQuizSnapshot() (*Quiz, error) {
	var quiz Quiz
	if err := json.Unmarshal([]byte(s.QuizSnapshotJSON), &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

// SetQuizSnapshot encodes the quiz structure blob.
func (s *Session) SetQuizSnapshot(q *Quiz) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	s.QuizSnapshotJSON = string(data)
	return nil
}

// GetScoringSettings decodes the per-session settings copied at creation.
func (s *Session) GetScoringSettings() ScoringSettings {
	if s.ScoringSettingsJSON == "" {
		return DefaultScoringSettings()
	}
	var settings ScoringSettings
	if err := json.Unmarshal([]byte(s.ScoringSettingsJSON), &settings); err != nil {
		return DefaultScoringSettings()
	}
	return settings
}

// SetScoringSettings encodes the settings blob.
func (s *Session) SetScoringSettings(settings ScoringSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	s.ScoringSettingsJSON = string(data)
	return nil
}
