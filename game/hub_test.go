package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partyquiz/protocol"
)

func drain(c *Conn) []*protocol.Message {
	var out []*protocol.Message
	for {
		select {
		case msg := <-c.Outbound():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestRoomBroadcastOrder(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := hub.Room("ABC234")

	a := NewConn(protocol.RolePlayer, "p1")
	b := NewConn(protocol.RoleDisplay, "")
	room.Join(a)
	room.Join(b)

	for i := 0; i < 5; i++ {
		room.Broadcast(protocol.MustMessage(protocol.TypeAnswerCountUpdated,
			protocol.AnswerCountPayload{Answered: i}))
	}

	for _, c := range []*Conn{a, b} {
		msgs := drain(c)
		require.Len(t, msgs, 5)
		for i, msg := range msgs {
			var p protocol.AnswerCountPayload
			require.NoError(t, msg.UnmarshalPayload(&p))
			assert.Equal(t, i, p.Answered, "every member sees the same order")
		}
	}
}

func TestRoomTailReplayOnJoin(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := hub.Room("ABC234")

	for i := 0; i < replayTailSize+10; i++ {
		room.Broadcast(protocol.MustMessage(protocol.TypeAnswerCountUpdated,
			protocol.AnswerCountPayload{Answered: i}))
	}

	late := NewConn(protocol.RolePlayer, "p9")
	room.Join(late)

	msgs := drain(late)
	require.Len(t, msgs, replayTailSize)

	var first protocol.AnswerCountPayload
	require.NoError(t, msgs[0].UnmarshalPayload(&first))
	assert.Equal(t, 10, first.Answered, "only the newest tail entries replay")
}

func TestRoomDropsOverflowedConn(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := hub.Room("ABC234")

	slow := NewConn(protocol.RolePlayer, "p1")
	room.Join(slow)

	for i := 0; i < sendBufferSize+1; i++ {
		room.Broadcast(protocol.MustMessage(protocol.TypeAnswerCountUpdated,
			protocol.AnswerCountPayload{Answered: i}))
	}

	assert.Equal(t, 0, room.ConnCount(), "overflowed member is removed")
	select {
	case <-slow.Done():
	default:
		t.Fatal("overflowed connection should be closed")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	c := NewConn(protocol.RolePlayer, "p1")
	c.Close()
	c.Close() // idempotent
	assert.False(t, c.Send(protocol.MustMessage(protocol.TypeError, nil)))
}

func TestHubRoomReuseAndDrop(t *testing.T) {
	hub := NewHub(zap.NewNop())

	r1 := hub.Room("AAAAAA")
	r2 := hub.Room("AAAAAA")
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, hub.RoomCount())

	c := NewConn(protocol.RoleHost, "")
	r1.Join(c)

	hub.DropRoom("AAAAAA")
	assert.Equal(t, 0, hub.RoomCount())
	select {
	case <-c.Done():
	default:
		t.Fatal("dropping the room should close its connections")
	}

	// A fresh room under the same code has no tail carried over.
	fresh := hub.Room("AAAAAA")
	probe := NewConn(protocol.RolePlayer, "p1")
	fresh.Join(probe)
	assert.Empty(t, drain(probe))
}

func TestRoomSendTo(t *testing.T) {
	hub := NewHub(zap.NewNop())
	room := hub.Room("ABC234")

	c := NewConn(protocol.RolePlayer, "p1")
	room.Join(c)

	room.SendTo(c, protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{
		Code: protocol.ErrBadRequest, Message: "nope",
	}))
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeError, msgs[0].Type)

	// Messages carry unique ids for client-side de-duplication.
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		msg := protocol.MustMessage(protocol.TypeAnswerCountUpdated, nil)
		require.False(t, seen[msg.ID], fmt.Sprintf("duplicate id %s", msg.ID))
		seen[msg.ID] = true
	}
}
