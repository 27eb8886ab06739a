// game/errors.go - Domain errors surfaced to clients
package game

import (
	"errors"

	"partyquiz/protocol"
)

var (
	ErrBadRequest         = errors.New("malformed payload")
	ErrUnauthorized       = errors.New("bad token")
	ErrSessionUnavailable = errors.New("session not found, ended, or archived")
	ErrQuizLocked         = errors.New("quiz has non-archived sessions")
	ErrNameTaken          = errors.New("display name already taken")
	ErrAlreadyAnswered    = errors.New("answer already submitted for this item")
	ErrItemNotOpen        = errors.New("item is not open for answers")
)

// ErrorCode maps a domain error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return protocol.ErrUnauthorized
	case errors.Is(err, ErrSessionUnavailable):
		return protocol.ErrSessionUnavailable
	case errors.Is(err, ErrQuizLocked):
		return protocol.ErrQuizLocked
	case errors.Is(err, ErrNameTaken):
		return protocol.ErrNameTaken
	case errors.Is(err, ErrAlreadyAnswered):
		return protocol.ErrAlreadyAnswered
	case errors.Is(err, ErrItemNotOpen):
		return protocol.ErrItemNotOpen
	default:
		return protocol.ErrBadRequest
	}
}
