package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/bot"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/localgame"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/online"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

var (
	errBadRequest     = errf("bad request")
	errNoLocalGame    = errf("no local game")
	errInvalidColor   = errf("invalid color")
	errUnknownMessage = errf("unknown message type")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// client is one websocket connection. Reads are handled in order on the
// serve goroutine; writes go through send so sessions can push from theirs.
type client struct {
	srv  *Server
	conn *websocket.Conn
	user identity.User
	send chan chessdto.Envelope

	mu     sync.Mutex
	local  *localgame.Session
	online *online.Session
}

func newClient(s *Server, conn *websocket.Conn, user identity.User) *client {
	return &client{
		srv:  s,
		conn: conn,
		user: user,
		send: make(chan chessdto.Envelope, sendBuffer),
	}
}

func (c *client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.online = online.New(c.srv.store, c.user,
		online.WithArchiver(c.srv.archiver),
		online.OnChange(func(s online.Snapshot) { c.push(chessdto.TypeOnlineState, onlineView(s)) }),
	)
	defer c.close()

	go c.writeLoop(ctx)

	for {
		var env chessdto.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				obslog.L().Debug("gateway_read_error", zap.String("user_id", c.user.ID), zap.Error(err))
			}
			return
		}
		if err := c.dispatch(ctx, env); err != nil {
			c.pushError(env.Type, err)
		}
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.send:
			if err := wsjson.Write(ctx, c.conn, env); err != nil {
				obslog.L().Debug("gateway_write_error", zap.String("user_id", c.user.ID), zap.Error(err))
				return
			}
		}
	}
}

// push never blocks the session that produced the message.
func (c *client) push(typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		obslog.L().Error("gateway_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	select {
	case c.send <- chessdto.Envelope{Type: typ, Payload: raw}:
	default:
		obslog.L().Warn("gateway_send_dropped", zap.String("user_id", c.user.ID), zap.String("type", typ))
	}
}

func (c *client) pushError(typ string, err error) {
	de := c.srv.domainError(err, typ)
	obslog.L().Debug("gateway_request_error", zap.String("user_id", c.user.ID), zap.String("type", typ), zap.String("code", de.Code), zap.Error(err))
	c.push(chessdto.TypeError, de)
}

func (c *client) close() {
	c.mu.Lock()
	local := c.local
	c.local = nil
	c.mu.Unlock()
	if local != nil {
		local.Close()
	}
	c.online.Close()
}

func decode(env chessdto.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return errBadRequest
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return errBadRequest
	}
	return nil
}

func (c *client) dispatch(ctx context.Context, env chessdto.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch env.Type {
	case chessdto.TypeBotStart:
		var req chessdto.BotStartRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return c.startLocal(req)
	case chessdto.TypeBotMove:
		var req chessdto.MoveRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return c.withLocal(func(s *localgame.Session) error {
			_, err := s.MakeMove(req.From, req.To, req.Promotion)
			return err
		})
	case chessdto.TypeBotUndo:
		return c.withLocal(func(s *localgame.Session) error {
			_, err := s.Undo()
			return err
		})
	case chessdto.TypeBotReset:
		return c.withLocal(func(s *localgame.Session) error {
			s.Reset()
			return nil
		})
	case chessdto.TypeBotFlip:
		return c.withLocal(func(s *localgame.Session) error {
			s.FlipBoard()
			return nil
		})

	case chessdto.TypeQueueJoin:
		tc, err := timeControl(env)
		if err != nil {
			return err
		}
		return c.online.JoinQueue(ctx, tc)
	case chessdto.TypeQueueLeave:
		return c.online.LeaveQueue(ctx)
	case chessdto.TypeRoomCreate:
		tc, err := timeControl(env)
		if err != nil {
			return err
		}
		code, err := c.online.CreatePrivateRoom(ctx, tc)
		if err != nil {
			return err
		}
		c.push(chessdto.TypeRoomCreated, chessdto.RoomCreated{Code: code})
		return nil
	case chessdto.TypeRoomJoin:
		var req chessdto.RoomJoinRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return c.online.JoinPrivateRoom(ctx, req.Code)
	case chessdto.TypeMove:
		var req chessdto.MoveRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return c.online.MakeMove(ctx, req.From, req.To, req.Promotion)
	case chessdto.TypeResign:
		return c.online.Resign(ctx)
	case chessdto.TypeClaimTimeout:
		return c.online.ClaimTimeout(ctx)
	case chessdto.TypeLeave:
		return c.online.Leave(ctx)
	default:
		return errUnknownMessage
	}
}

func timeControl(env chessdto.Envelope) (clock.TimeControl, error) {
	var req chessdto.TimeControlRequest
	if err := decode(env, &req); err != nil {
		return "", err
	}
	tc, ok := clock.ParseTimeControl(req.TimeControl)
	if !ok {
		return "", online.ErrInvalidTimeControl
	}
	return tc, nil
}

func (c *client) startLocal(req chessdto.BotStartRequest) error {
	color, ok := rules.ParseColor(req.Color)
	if !ok {
		return errInvalidColor
	}
	cfg := localgame.Config{
		PlayerColor: color,
		Difficulty:  bot.ParseDifficulty(req.Difficulty),
		ThinkMin:    c.srv.thinkMin,
		ThinkMax:    c.srv.thinkMax,
	}
	if req.TimeControl != "" {
		tc, ok := clock.ParseTimeControl(req.TimeControl)
		if !ok {
			return online.ErrInvalidTimeControl
		}
		cfg.TimeControl = tc
	}
	s, err := localgame.New(cfg, bot.NewSelector(),
		localgame.OnChange(func(st localgame.State) { c.push(chessdto.TypeLocalState, localView(st)) }),
	)
	if err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.local
	c.local = s
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	obslog.L().Info("local_game_start",
		zap.String("user_id", c.user.ID),
		zap.String("color", rules.ColorName(color)),
		zap.String("difficulty", string(cfg.Difficulty)),
		zap.String("time_control", string(cfg.TimeControl)),
	)
	c.push(chessdto.TypeLocalState, localView(s.State()))
	return nil
}

func (c *client) withLocal(fn func(*localgame.Session) error) error {
	c.mu.Lock()
	s := c.local
	c.mu.Unlock()
	if s == nil {
		return errNoLocalGame
	}
	return fn(s)
}
