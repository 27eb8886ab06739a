// game/commands.go - Serialized commands processed by the session actor
package game

import (
	"context"
	"encoding/json"
	"time"

	"partyquiz/models"
	"partyquiz/protocol"
)

// Command is any unit of work on the session's serialized queue. Host
// actions, player answers, timer fires, presence changes, and minigame ticks
// all flow through the same channel so every transition is totally ordered.
type Command interface {
	isCommand()
}

// Reply carries the point-to-point outcome of a command back to the
// originating connection.
type Reply struct {
	Msg *protocol.Message
	Err error
}

// JoinReply additionally carries the credentials of a new or resumed player.
type JoinReply struct {
	PlayerID string
	Token    string
	Name     string
	Err      error
}

type HostStartCmd struct{ Reply chan Reply }
type HostLockCmd struct{ Reply chan Reply }
type HostRevealCmd struct{ Reply chan Reply }
type HostNextCmd struct{ Reply chan Reply }
type HostCancelCmd struct{ Reply chan Reply }
type HostPauseCmd struct{ Reply chan Reply }
type HostResumeCmd struct{ Reply chan Reply }
type HostEndCmd struct{ Reply chan Reply }

type HostShowScoreboardCmd struct {
	Scope string
	Reply chan Reply
}

type HostStartMinigameCmd struct {
	Kind  string
	Reply chan Reply
}

type PlayerJoinCmd struct {
	Name   string
	Avatar string
	Token  string // set when resuming with an existing token
	Reply  chan JoinReply
}

type PlayerAnswerCmd struct {
	PlayerID string
	ItemID   uint
	Raw      json.RawMessage
	Reply    chan Reply
}

type PlayerLeaveCmd struct {
	PlayerID string
}

// GetStateCmd asks the session to synthesize a SESSION_STATE snapshot for a
// single connection (reconnect catch-up).
type GetStateCmd struct {
	PlayerID string
	Conn     *Conn
}

// ConnChangeCmd is the hub's presence notification. Delta is +1 on connect
// and -1 on disconnect.
type ConnChangeCmd struct {
	PlayerID string
	Delta    int
}

type MinigameInputCmd struct {
	PlayerID string
	Input    protocol.MinigameInputPayload
	At       time.Time
}

// timerFiredCmd is enqueued by the item deadline timer. The epoch guards
// against a stale fire racing a newer item.
type timerFiredCmd struct{ epoch uint64 }

// minigameTickCmd drives the 30 Hz authoritative loop.
type minigameTickCmd struct{ epoch uint64 }

// reconciledCmd clears degraded mode once the retry queue has drained.
type reconciledCmd struct{}

func (HostStartCmd) isCommand()          {}
func (HostLockCmd) isCommand()           {}
func (HostRevealCmd) isCommand()         {}
func (HostNextCmd) isCommand()           {}
func (HostCancelCmd) isCommand()         {}
func (HostPauseCmd) isCommand()          {}
func (HostResumeCmd) isCommand()         {}
func (HostEndCmd) isCommand()            {}
func (HostShowScoreboardCmd) isCommand() {}
func (HostStartMinigameCmd) isCommand()  {}
func (PlayerJoinCmd) isCommand()         {}
func (PlayerAnswerCmd) isCommand()       {}
func (PlayerLeaveCmd) isCommand()        {}
func (GetStateCmd) isCommand()           {}
func (ConnChangeCmd) isCommand()         {}
func (MinigameInputCmd) isCommand()      {}
func (timerFiredCmd) isCommand()         {}
func (minigameTickCmd) isCommand()       {}
func (reconciledCmd) isCommand()         {}

// Store is the durable mirror the session writes through. Implementations
// retry transient failures internally; an error means retries are exhausted
// and the session should degrade.
type Store interface {
	CreatePlayer(ctx context.Context, p *models.SessionPlayer) error
	AppendAnswer(ctx context.Context, a *models.SessionAnswer) error
	FinalizeReveal(ctx context.Context, answers []*models.SessionAnswer, players []*models.SessionPlayer) error
	AddScores(ctx context.Context, players []*models.SessionPlayer) error
	SaveState(ctx context.Context, sessionRowID uint, state string, round, item int) error
	FinalizeSession(ctx context.Context, sessionRowID uint) error
	AppendEvent(ctx context.Context, ev *models.SessionEvent) error
}

// RetryQueue accepts persistence work the session could not complete, to be
// retried in the background while the session serves from memory.
type RetryQueue interface {
	Enqueue(name string, op func(context.Context) error)
}
