// game/hub.go - Room registry and fan-out for the realtime channel
package game

import (
	"sync"

	"go.uber.org/zap"

	"partyquiz/protocol"
)

const (
	// Per-connection outbound buffer. Overflow closes the connection; the
	// client reconnects and catches up from the tail + a state snapshot.
	sendBufferSize = 256

	// Broadcast tail replayed to reconnecting members.
	replayTailSize = 50
)

// Conn is one registered transport connection. Outbound messages are queued
// on a bounded channel drained by the transport's write pump.
type Conn struct {
	Role     string
	PlayerID string

	send    chan *protocol.Message
	done    chan struct{}
	closeMu sync.Once
}

// NewConn builds a connection handle for the given role. PlayerID is empty
// for host and display connections.
func NewConn(role, playerID string) *Conn {
	return &Conn{
		Role:     role,
		PlayerID: playerID,
		send:     make(chan *protocol.Message, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Send queues a message without blocking. It reports false when the buffer
// is full; the room closes such connections.
func (c *Conn) Send(msg *protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Outbound is drained by the transport write pump.
func (c *Conn) Outbound() <-chan *protocol.Message { return c.send }

// Done closes when the connection has been dropped from its room.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection dead. Idempotent.
func (c *Conn) Close() {
	c.closeMu.Do(func() { close(c.done) })
}

// Room is the fan-out unit for one session. All broadcasts for a room pass
// through its mutex, giving every member the same total order.
type Room struct {
	code   string
	logger *zap.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
	tail  []*protocol.Message
	seq   uint64
}

func newRoom(code string, logger *zap.Logger) *Room {
	return &Room{
		code:   code,
		logger: logger.With(zap.String("room", code)),
		conns:  make(map[*Conn]struct{}),
	}
}

// Join registers the connection and replays the bounded broadcast tail so a
// reconnecting client can de-duplicate by message id.
func (r *Room) Join(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.tail {
		if !c.Send(msg) {
			break
		}
	}
	r.conns[c] = struct{}{}
}

// Leave removes the connection and closes it.
func (r *Room) Leave(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	c.Close()
}

// Broadcast fans a message out to every member in room order. Members whose
// buffer overflows are dropped; they reconnect and re-catch-up.
func (r *Room) Broadcast(msg *protocol.Message) {
	r.mu.Lock()

	r.seq++
	r.tail = append(r.tail, msg)
	if len(r.tail) > replayTailSize {
		r.tail = r.tail[len(r.tail)-replayTailSize:]
	}

	var overflowed []*Conn
	for c := range r.conns {
		if !c.Send(msg) {
			overflowed = append(overflowed, c)
		}
	}
	for _, c := range overflowed {
		delete(r.conns, c)
	}
	r.mu.Unlock()

	for _, c := range overflowed {
		r.logger.Warn("send buffer overflow, dropping connection",
			zap.String("role", c.Role),
			zap.String("player_id", c.PlayerID))
		c.Close()
	}
}

// SendTo queues a message on a single connection (point-to-point replies and
// synthesized state snapshots).
func (r *Room) SendTo(c *Conn, msg *protocol.Message) {
	if !c.Send(msg) {
		r.Leave(c)
	}
}

// ConnCount returns the number of attached connections.
func (r *Room) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll drops every connection (session teardown).
func (r *Room) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[*Conn]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Hub owns the room registry keyed by session code. It holds connection
// membership but no game state.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub builds an empty registry.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// Room returns the room for a session code, creating it on first use.
func (h *Hub) Room(code string) *Room {
	h.mu.RLock()
	room, ok := h.rooms[code]
	h.mu.RUnlock()
	if ok {
		return room
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok = h.rooms[code]; ok {
		return room
	}
	room = newRoom(code, h.logger)
	h.rooms[code] = room
	return room
}

// DropRoom closes every connection in the room and removes it.
func (h *Hub) DropRoom(code string) {
	h.mu.Lock()
	room, ok := h.rooms[code]
	delete(h.rooms, code)
	h.mu.Unlock()

	if ok {
		room.CloseAll()
	}
}

// RoomCount reports the number of live rooms (health checks).
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
