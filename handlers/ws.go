// handlers/ws.go - Websocket orchestrator: handshake, auth, pumps
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"partyquiz/game"
	"partyquiz/protocol"
	"partyquiz/utils"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// How long a handshake-time command may wait on a busy session queue.
	dispatchWait = 10 * time.Second
)

// WSServer accepts realtime connections and bridges them to session actors.
// It owns no game state: inbound frames become commands, outbound events are
// drained from the hub connection.
type WSServer struct {
	manager *game.Manager
	hub     *game.Hub
	clock   game.Clock
	logger  *zap.Logger
}

// NewWSServer wires the orchestrator.
func NewWSServer(manager *game.Manager, hub *game.Hub, clock game.Clock, logger *zap.Logger) *WSServer {
	return &WSServer{
		manager: manager,
		hub:     hub,
		clock:   clock,
		logger:  logger.Named("ws"),
	}
}

// client is one accepted connection's pump state.
type client struct {
	srv     *WSServer
	conn    *websocket.Conn
	session *game.Session
	gconn   *game.Conn
	room    *game.Room
	logger  *zap.Logger

	role     string
	playerID string
}

// Handle is the websocket endpoint. Handshake parameters ride the query
// string: code (required), role (host|player|display), token (host owner
// token, or player resume token).
func (s *WSServer) Handle(w http.ResponseWriter, r *http.Request) {
	if !utils.IsWebSocketUpgrade(r) {
		_ = utils.JSONError(w, http.StatusUpgradeRequired, "websocket upgrade required")
		return
	}

	code := strings.ToUpper(utils.Query(r, "code"))
	role := utils.Query(r, "role", protocol.RolePlayer)
	token := utils.Query(r, "token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checking handled by the proxy layer
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := r.Context()

	if !game.ValidJoinCode(code) {
		closeWithError(ctx, conn, protocol.ErrBadRequest, "malformed join code")
		return
	}
	session, ok := s.manager.Get(code)
	if !ok {
		closeWithError(ctx, conn, protocol.ErrSessionUnavailable, "no session for that code")
		return
	}

	c := &client{
		srv:     s,
		conn:    conn,
		session: session,
		role:    role,
		logger:  s.logger.With(zap.String("code", code), zap.String("role", role)),
	}

	switch role {
	case protocol.RoleHost:
		if !session.VerifyHostToken(token) {
			closeWithError(ctx, conn, protocol.ErrUnauthorized, "bad host token")
			return
		}
	case protocol.RoleDisplay:
		// Session code is sufficient.
	case protocol.RolePlayer:
		if token != "" {
			join, err := c.dispatchJoin(ctx, game.PlayerJoinCmd{Token: token})
			if err != nil {
				closeWithError(ctx, conn, game.ErrorCode(err), err.Error())
				return
			}
			c.playerID = join.PlayerID
		}
		// Without a token the player joins via a PLAYER_JOIN frame.
	default:
		closeWithError(ctx, conn, protocol.ErrBadRequest, "unknown role")
		return
	}

	c.gconn = game.NewConn(role, c.playerID)
	c.room = s.hub.Room(code)
	c.room.Join(c.gconn)

	defer func() {
		c.room.Leave(c.gconn)
		if c.playerID != "" {
			_ = session.Dispatch(context.Background(), game.ConnChangeCmd{PlayerID: c.playerID, Delta: -1})
		}
	}()

	if c.playerID != "" {
		_ = session.Dispatch(ctx, game.ConnChangeCmd{PlayerID: c.playerID, Delta: 1})
	}
	// Every new connection gets a synthesized snapshot; tail replay alone is
	// not enough to resume.
	_ = session.Dispatch(ctx, game.GetStateCmd{PlayerID: c.playerID, Conn: c.gconn})

	go c.writePump(ctx)
	go c.pingPump(ctx)
	c.readPump(ctx)
}

func (c *client) readPump(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		var msg protocol.Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.logger.Debug("read ended", zap.Error(err))
			}
			return
		}
		if !c.handleFrame(ctx, msg) {
			return
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case msg := <-c.gconn.Outbound():
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				return
			}
		case <-c.gconn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) pingPump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-c.gconn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame routes one inbound envelope. Returns false to drop the
// connection.
func (c *client) handleFrame(ctx context.Context, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypePlayerJoin:
		return c.framePlayerJoin(ctx, msg)
	case protocol.TypePlayerAnswer:
		return c.framePlayerAnswer(ctx, msg)
	case protocol.TypePlayerLeave:
		if c.playerID != "" {
			_ = c.session.Dispatch(ctx, game.PlayerLeaveCmd{PlayerID: c.playerID})
		}
		return false
	case protocol.TypeGetSessionState:
		_ = c.session.Dispatch(ctx, game.GetStateCmd{PlayerID: c.playerID, Conn: c.gconn})
		return true
	case protocol.TypeSwanChaseInput:
		return c.frameMinigameInput(ctx, msg)
	case protocol.TypeHostStart, protocol.TypeHostLock, protocol.TypeHostReveal,
		protocol.TypeHostShowScoreboard, protocol.TypeHostNext, protocol.TypeHostCancelItem,
		protocol.TypeHostPause, protocol.TypeHostResume, protocol.TypeHostEnd,
		protocol.TypeHostStartMinigame:
		return c.frameHostCommand(ctx, msg)
	default:
		c.sendError(protocol.ErrBadRequest, "unknown message type "+msg.Type)
		return true
	}
}

func (c *client) framePlayerJoin(ctx context.Context, msg protocol.Message) bool {
	if c.role != protocol.RolePlayer {
		c.sendError(protocol.ErrUnauthorized, "only players join")
		return true
	}
	if c.playerID != "" {
		c.sendError(protocol.ErrBadRequest, "already joined")
		return true
	}

	var payload protocol.JoinPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		c.sendError(protocol.ErrBadRequest, "malformed join payload")
		return true
	}

	join, err := c.dispatchJoin(ctx, game.PlayerJoinCmd{
		Name:   payload.Name,
		Avatar: payload.Avatar,
		Token:  payload.Token,
	})
	if err != nil {
		c.sendError(game.ErrorCode(err), err.Error())
		return true
	}

	c.playerID = join.PlayerID
	_ = c.session.Dispatch(ctx, game.ConnChangeCmd{PlayerID: c.playerID, Delta: 1})

	// Direct reply carries the resume token; the broadcast copy does not.
	c.room.SendTo(c.gconn, protocol.MustMessage(protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
		PlayerID: join.PlayerID,
		Name:     join.Name,
		Token:    join.Token,
	}))
	_ = c.session.Dispatch(ctx, game.GetStateCmd{PlayerID: c.playerID, Conn: c.gconn})
	return true
}

func (c *client) framePlayerAnswer(ctx context.Context, msg protocol.Message) bool {
	if c.playerID == "" {
		c.sendError(protocol.ErrUnauthorized, "join first")
		return true
	}

	var payload protocol.AnswerPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		c.sendError(protocol.ErrBadRequest, "malformed answer payload")
		return true
	}
	itemID, err := strconv.ParseUint(payload.ItemID, 10, 32)
	if err != nil {
		c.sendError(protocol.ErrBadRequest, "malformed item id")
		return true
	}

	reply := make(chan game.Reply, 1)
	cmd := game.PlayerAnswerCmd{
		PlayerID: c.playerID,
		ItemID:   uint(itemID),
		Raw:      payload.Answer,
		Reply:    reply,
	}
	if err := c.session.Dispatch(ctx, cmd); err != nil {
		c.sendError(game.ErrorCode(err), err.Error())
		return false
	}

	select {
	case r := <-reply:
		if r.Err != nil {
			c.sendError(game.ErrorCode(r.Err), r.Err.Error())
		} else if r.Msg != nil {
			c.room.SendTo(c.gconn, r.Msg)
		}
	case <-ctx.Done():
		return false
	}
	return true
}

func (c *client) frameMinigameInput(ctx context.Context, msg protocol.Message) bool {
	if c.playerID == "" {
		return true
	}
	var payload protocol.MinigameInputPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return true
	}
	_ = c.session.Dispatch(ctx, game.MinigameInputCmd{
		PlayerID: c.playerID,
		Input:    payload,
		At:       c.srv.clock.Now(),
	})
	return true
}

func (c *client) frameHostCommand(ctx context.Context, msg protocol.Message) bool {
	if c.role != protocol.RoleHost {
		c.sendError(protocol.ErrUnauthorized, "host commands require the host connection")
		return true
	}

	reply := make(chan game.Reply, 1)
	var cmd game.Command
	switch msg.Type {
	case protocol.TypeHostStart:
		cmd = game.HostStartCmd{Reply: reply}
	case protocol.TypeHostLock:
		cmd = game.HostLockCmd{Reply: reply}
	case protocol.TypeHostReveal:
		cmd = game.HostRevealCmd{Reply: reply}
	case protocol.TypeHostNext:
		cmd = game.HostNextCmd{Reply: reply}
	case protocol.TypeHostCancelItem:
		cmd = game.HostCancelCmd{Reply: reply}
	case protocol.TypeHostPause:
		cmd = game.HostPauseCmd{Reply: reply}
	case protocol.TypeHostResume:
		cmd = game.HostResumeCmd{Reply: reply}
	case protocol.TypeHostEnd:
		cmd = game.HostEndCmd{Reply: reply}
	case protocol.TypeHostShowScoreboard:
		var payload protocol.ShowScoreboardPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			c.sendError(protocol.ErrBadRequest, "malformed scoreboard payload")
			return true
		}
		cmd = game.HostShowScoreboardCmd{Scope: payload.Scope, Reply: reply}
	case protocol.TypeHostStartMinigame:
		var payload protocol.StartMinigamePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			c.sendError(protocol.ErrBadRequest, "malformed minigame payload")
			return true
		}
		cmd = game.HostStartMinigameCmd{Kind: payload.Kind, Reply: reply}
	}

	if err := c.session.Dispatch(ctx, cmd); err != nil {
		c.sendError(game.ErrorCode(err), err.Error())
		return false
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			c.sendError(game.ErrorCode(r.Err), r.Err.Error())
		}
	case <-ctx.Done():
		return false
	}
	return true
}

// dispatchJoin round-trips a join command to the actor.
func (c *client) dispatchJoin(ctx context.Context, cmd game.PlayerJoinCmd) (game.JoinReply, error) {
	reply := make(chan game.JoinReply, 1)
	cmd.Reply = reply

	dctx, cancel := context.WithTimeout(ctx, dispatchWait)
	defer cancel()

	if err := c.session.Dispatch(dctx, cmd); err != nil {
		return game.JoinReply{}, err
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			return game.JoinReply{}, r.Err
		}
		return r, nil
	case <-dctx.Done():
		return game.JoinReply{}, dctx.Err()
	}
}

func (c *client) sendError(code, text string) {
	c.room.SendTo(c.gconn, protocol.NewErrorMessage(code, text))
}

// closeWithError rejects a connection before it ever joins a room.
func closeWithError(ctx context.Context, conn *websocket.Conn, code, text string) {
	wctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	_ = wsjson.Write(wctx, conn, protocol.NewErrorMessage(code, text))
	conn.Close(websocket.StatusPolicyViolation, code)
}
