// protocol/protocol.go - Message envelope and type constants for the realtime channel
package protocol

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Inbound message types (client to session).
const (
	TypeHostStart          = "HOST_START"
	TypeHostLock           = "HOST_LOCK"
	TypeHostReveal         = "HOST_REVEAL"
	TypeHostShowScoreboard = "HOST_SHOW_SCOREBOARD"
	TypeHostNext           = "HOST_NEXT"
	TypeHostCancelItem     = "HOST_CANCEL_ITEM"
	TypeHostPause          = "HOST_PAUSE"
	TypeHostResume         = "HOST_RESUME"
	TypeHostEnd            = "HOST_END"
	TypeHostStartMinigame  = "HOST_START_MINIGAME"
	TypePlayerJoin         = "PLAYER_JOIN"
	TypePlayerAnswer       = "PLAYER_ANSWER"
	TypePlayerLeave        = "PLAYER_LEAVE"
	TypeGetSessionState    = "GET_SESSION_STATE"
	TypeSwanChaseInput     = "SWAN_CHASE_INPUT"
)

// Outbound message types (session to clients).
const (
	TypeSessionState       = "SESSION_STATE"
	TypePlayerJoined       = "PLAYER_JOINED"
	TypePlayerLeft         = "PLAYER_LEFT"
	TypeItemStarted        = "ITEM_STARTED"
	TypeItemLocked         = "ITEM_LOCKED"
	TypeItemCancelled      = "ITEM_CANCELLED"
	TypeRevealAnswers      = "REVEAL_ANSWERS"
	TypeAnswerReceived     = "ANSWER_RECEIVED"
	TypeAnswerCountUpdated = "ANSWER_COUNT_UPDATED"
	TypeLeaderboardUpdate  = "LEADERBOARD_UPDATE"
	TypeShowScoreboard     = "SHOW_SCOREBOARD"
	TypeHideScoreboard     = "HIDE_SCOREBOARD"
	TypeSessionPaused      = "SESSION_PAUSED"
	TypeSessionResumed     = "SESSION_RESUMED"
	TypeSessionEnded       = "SESSION_ENDED"
	TypeSpeedPodium        = "SPEED_PODIUM_RESULTS"
	TypeSwanChaseStarted   = "SWAN_CHASE_STARTED"
	TypeSwanChaseState     = "SWAN_CHASE_STATE"
	TypeError              = "ERROR"
)

// Error codes surfaced to clients.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrSessionUnavailable = "SESSION_UNAVAILABLE"
	ErrQuizLocked         = "QUIZ_LOCKED"
	ErrNameTaken          = "NAME_TAKEN"
	ErrAlreadyAnswered    = "ALREADY_ANSWERED"
	ErrItemNotOpen        = "ITEM_NOT_OPEN"
	ErrQueueOverflow      = "QUEUE_OVERFLOW"
)

// Message is the wire envelope. ID is a ULID assigned by the sender; TS is
// the sender's best-effort wall clock in unix milliseconds (informational).
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with a fresh ULID and the given payload.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	msg := &Message{
		Type: msgType,
		ID:   ulid.Make().String(),
		TS:   time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(msgType string, payload interface{}) *Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// UnmarshalPayload decodes the payload into v.
func (m *Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// NewErrorMessage builds an ERROR envelope.
func NewErrorMessage(code, text string) *Message {
	return MustMessage(TypeError, ErrorPayload{Code: code, Message: text})
}
