// Package online drives one player's view of a shared game record: queueing,
// private rooms, move submission, resignation and clock timeouts.
package online

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
)

const (
	RoomCodeLen       = 6
	roomCodeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeAttempts  = 5
	backgroundTimeout = 5 * time.Second
)

var errClockMoved = errf("side to move changed before timeout commit")

// Archiver receives records this session finished.
type Archiver interface {
	SaveResult(ctx context.Context, g *store.Game) error
}

type Option func(*Session)

func WithArchiver(a Archiver) Option { return func(s *Session) { s.archiver = a } }

func WithNow(fn func() time.Time) Option { return func(s *Session) { s.now = fn } }

// WithClockOptions is applied to every clock the session starts.
func WithClockOptions(opts ...clock.Option) Option {
	return func(s *Session) { s.clockOpts = append(s.clockOpts, opts...) }
}

// WithCoin decides colors for queue matches; true gives the claimer white.
func WithCoin(fn func() bool) Option { return func(s *Session) { s.coin = fn } }

func WithRoomCodes(fn func() (string, error)) Option { return func(s *Session) { s.newCode = fn } }

// OnChange observes every state change, called outside the session lock.
func OnChange(fn func(Snapshot)) Option { return func(s *Session) { s.onChange = fn } }

type Session struct {
	// opMu serializes operations that talk to the store.
	opMu sync.Mutex
	mu   sync.Mutex

	st        store.Store
	user      identity.User
	archiver  Archiver
	now       func() time.Time
	newID     func() string
	coin      func() bool
	newCode   func() (string, error)
	clockOpts []clock.Option
	onChange  func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	phase     Phase
	tc        clock.TimeControl
	roomCode  string
	game      *store.Game
	pos       *rules.Position
	color     nchess.Color
	clk       *clock.Clock
	clkCancel context.CancelFunc
	gameSub   store.Subscription
	playerSub store.Subscription
	queueSub  store.Subscription
	version   uint64

	// pendingTimeout is the flagged opponent whose timeout write failed.
	pendingTimeout nchess.Color
}

func New(st store.Store, user identity.User, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		st:      st,
		user:    user,
		now:     time.Now,
		newID:   uuid.NewString,
		coin:    coinFlip,
		newCode: roomCode,
		ctx:     ctx,
		cancel:  cancel,
		phase:   PhaseIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) UserID() string { return s.user.ID }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// JoinQueue matches with the oldest compatible entry or queues the caller.
func (s *Session) JoinQueue(ctx context.Context, tc clock.TimeControl) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkStart(tc); err != nil {
		return err
	}
	uid := s.user.ID
	// the match notification feed must be live before anyone can see our entry
	psub, err := s.st.SubscribePlayer(ctx, uid)
	if err != nil {
		return err
	}
	opp, err := s.st.FindOpponent(ctx, tc, uid)
	switch {
	case err == nil:
		g := s.newMatchGame(opp.UserID, tc)
		cerr := s.st.ClaimMatch(ctx, store.Match{Opponent: opp.UserID, Claimer: uid, Game: g})
		if cerr == nil {
			_ = psub.Close()
			obslog.L().Info("online_match_claimed",
				zap.String("game_id", g.ID),
				zap.String("user_id", uid),
				zap.String("opponent_id", opp.UserID),
				zap.String("time_control", string(tc)),
			)
			return s.adopt(ctx, g, nil)
		}
		if !errors.Is(cerr, store.ErrEntryGone) {
			_ = psub.Close()
			return cerr
		}
		obslog.L().Debug("online_match_lost", zap.String("user_id", uid), zap.String("opponent_id", opp.UserID))
	case !errors.Is(err, store.ErrNotFound):
		_ = psub.Close()
		return err
	}

	qsub, err := s.st.SubscribeQueue(ctx, tc)
	if err != nil {
		_ = psub.Close()
		return err
	}
	entry := store.QueueEntry{UserID: uid, TimeControl: tc, Rating: s.user.RatingFor(tc), JoinedAt: s.now()}
	if err := s.st.UpsertQueueEntry(ctx, entry); err != nil {
		_ = psub.Close()
		_ = qsub.Close()
		return err
	}
	s.mu.Lock()
	s.resetLocked()
	s.phase = PhaseSearching
	s.tc = tc
	s.playerSub = psub
	s.queueSub = qsub
	snap := s.changedLocked()
	s.mu.Unlock()
	go s.listen(psub, s.onPlayerEvent)
	go s.listen(qsub, s.onQueueEvent)
	obslog.L().Info("online_queue_join", zap.String("user_id", uid), zap.String("time_control", string(tc)), zap.Int("rating", entry.Rating))
	s.notify(snap)
	return nil
}

// LeaveQueue deletes the caller's entry. Calling it when not queued is harmless.
func (s *Session) LeaveQueue(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.user.Authenticated() {
		return ErrUnauthenticated
	}
	if err := s.st.DeleteQueueEntry(ctx, s.user.ID); err != nil {
		return err
	}
	s.mu.Lock()
	if s.phase != PhaseSearching {
		s.mu.Unlock()
		return nil
	}
	s.resetLocked()
	snap := s.changedLocked()
	s.mu.Unlock()
	obslog.L().Info("online_queue_leave", zap.String("user_id", s.user.ID))
	s.notify(snap)
	return nil
}

// CreatePrivateRoom opens a waiting game with the caller as white.
func (s *Session) CreatePrivateRoom(ctx context.Context, tc clock.TimeControl) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkStart(tc); err != nil {
		return "", err
	}
	var lastErr error
	for i := 0; i < roomCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		g := s.newRoomGame(code, tc)
		gsub, err := s.st.SubscribeGame(ctx, g.ID)
		if err != nil {
			return "", err
		}
		err = s.st.CreateGame(ctx, g)
		if err == nil {
			obslog.L().Info("online_room_create", zap.String("game_id", g.ID), zap.String("room_code", code), zap.String("user_id", s.user.ID))
			return code, s.adopt(ctx, g, gsub)
		}
		_ = gsub.Close()
		if !errors.Is(err, store.ErrRoomCodeTaken) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// JoinPrivateRoom takes the black seat of a waiting room.
func (s *Session) JoinPrivateRoom(ctx context.Context, code string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.user.Authenticated() {
		return ErrUnauthenticated
	}
	if err := s.checkIdle(); err != nil {
		return err
	}
	code = NormalizeRoomCode(code)
	if !ValidRoomCode(code) {
		return ErrRoomNotFound
	}
	uid := s.user.ID
	g, err := s.st.FindRoom(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if g.Status != store.StatusWaiting {
		return ErrRoomNotFound
	}
	if g.WhitePlayerID == uid {
		return ErrSelfJoin
	}
	gsub, err := s.st.SubscribeGame(ctx, g.ID)
	if err != nil {
		return err
	}
	updated, err := s.st.Mutate(ctx, g.ID, func(cur *store.Game) error {
		if cur.WhitePlayerID == uid {
			return ErrSelfJoin
		}
		if cur.Status != store.StatusWaiting || cur.BlackPlayerID != "" {
			return ErrRoomAlreadyStarted
		}
		cur.BlackPlayerID = uid
		cur.Status = store.StatusActive
		cur.LastMoveAt = s.now()
		return nil
	})
	if err != nil {
		_ = gsub.Close()
		return err
	}
	obslog.L().Info("online_room_join", zap.String("game_id", updated.ID), zap.String("room_code", code), zap.String("user_id", uid))
	return s.adopt(ctx, updated, gsub)
}

// MakeMove applies the move locally, then writes the whole record. A failed
// write restores the pre-move position and clock.
func (s *Session) MakeMove(ctx context.Context, from, to, promotion string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	if s.phase != PhaseActive || s.game == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	if s.pos.Turn() != s.color {
		s.mu.Unlock()
		return ErrNotYourTurn
	}
	m, err := rules.NewMove(from, to, promotion)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next, err := s.pos.Apply(m)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	played, _ := next.Last()
	prevGame, prevPos := s.game, s.pos
	prevClock := s.clk.Snapshot()
	times := s.clk.Switch(next.Turn())
	if times.Flagged {
		s.mu.Unlock()
		return ErrNotActive
	}

	g := prevGame.Clone()
	g.Moves = append(g.Moves, played.Move.UCI())
	g.MovesSAN = append(g.MovesSAN, played.SAN)
	g.FEN = next.FEN()
	g.CurrentTurn = rules.ColorName(next.Turn())
	g.WhiteTimeRemaining = times.White
	g.BlackTimeRemaining = times.Black
	g.LastMoveAt = s.now()
	switch {
	case next.IsCheckmate():
		g.Finish(store.WinFor(s.color), store.TermCheckmate)
	case next.IsDraw():
		g.Finish(store.ResultDraw, next.Method())
	}
	if g.Terminal() {
		g.UpdatedAt = g.LastMoveAt
		g.PGN = archive.BuildPGN(g)
		s.clk.Pause()
	}
	s.game, s.pos = g, next
	s.phase = phaseOf(g.Status)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.notify(snap)

	if err := s.st.UpdateGame(ctx, g); err != nil {
		s.mu.Lock()
		rolledBack := s.game == g
		if rolledBack {
			s.game, s.pos = prevGame, prevPos
			s.phase = phaseOf(prevGame.Status)
			s.clk.Sync(prevClock.White, prevClock.Black, prevClock.Turn, prevClock.Running)
		}
		snap := s.changedLocked()
		s.mu.Unlock()
		obslog.L().Warn("online_move_rollback",
			zap.String("game_id", g.ID),
			zap.String("move", played.Move.UCI()),
			zap.Bool("rolled_back", rolledBack),
			zap.Error(err),
		)
		s.notify(snap)
		if errors.Is(err, store.ErrGameFinished) {
			s.resync(ctx, g.ID)
			return ErrNotActive
		}
		return err
	}
	obslog.L().Info("online_move",
		zap.String("game_id", g.ID),
		zap.String("user_id", s.user.ID),
		zap.String("move", played.Move.UCI()),
		zap.Int("ply", g.Ply()),
		zap.String("status", string(g.Status)),
	)
	if g.Terminal() {
		s.archive(ctx, g)
	}
	return nil
}

// Resign completes the game for the opponent without touching the board.
func (s *Session) Resign(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	if s.phase != PhaseActive || s.game == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	id, winner := s.game.ID, rules.Opponent(s.color)
	s.mu.Unlock()

	updated, err := s.st.Mutate(ctx, id, func(cur *store.Game) error {
		if cur.Terminal() {
			return ErrNotActive
		}
		cur.Finish(store.WinFor(winner), store.TermResignation)
		cur.PGN = archive.BuildPGN(cur)
		return nil
	})
	if err != nil {
		return err
	}
	obslog.L().Info("online_resign", zap.String("game_id", id), zap.String("user_id", s.user.ID), zap.String("winner_id", updated.WinnerID))
	s.commitLocal(updated)
	s.archive(ctx, updated)
	return nil
}

// ClaimTimeout retries the timeout write after the opponent's flag fell and
// the first attempt failed.
func (s *Session) ClaimTimeout(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	if s.phase != PhaseActive || s.game == nil || s.pendingTimeout == nchess.NoColor {
		s.mu.Unlock()
		return ErrNotActive
	}
	id, loser := s.game.ID, s.pendingTimeout
	s.mu.Unlock()
	return s.commitTimeout(ctx, id, loser)
}

// Leave releases feeds and the clock. A queued caller's entry is deleted and
// a waiting room is abandoned; an active game is left to the clock.
func (s *Session) Leave(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	phase := s.phase
	var id string
	if s.game != nil {
		id = s.game.ID
	}
	s.mu.Unlock()

	var err error
	switch phase {
	case PhaseSearching:
		err = s.st.DeleteQueueEntry(ctx, s.user.ID)
	case PhaseWaiting:
		_, err = s.st.Mutate(ctx, id, func(cur *store.Game) error {
			if cur.Status != store.StatusWaiting {
				return ErrRoomAlreadyStarted
			}
			cur.Status = store.StatusAbandoned
			cur.Termination = store.TermAbandoned
			return nil
		})
		if errors.Is(err, ErrRoomAlreadyStarted) {
			err = nil
		}
	}
	s.mu.Lock()
	s.resetLocked()
	snap := s.changedLocked()
	s.mu.Unlock()
	obslog.L().Info("online_leave", zap.String("user_id", s.user.ID), zap.String("phase", string(phase)), zap.String("game_id", id))
	s.notify(snap)
	return err
}

// Close leaves the session and stops background work.
func (s *Session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	if err := s.Leave(ctx); err != nil {
		obslog.L().Warn("online_close_error", zap.String("user_id", s.user.ID), zap.Error(err))
	}
	s.cancel()
}

func (s *Session) checkStart(tc clock.TimeControl) error {
	if !s.user.Authenticated() {
		return ErrUnauthenticated
	}
	if !tc.Valid() {
		return ErrInvalidTimeControl
	}
	return s.checkIdle()
}

func (s *Session) checkIdle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseIdle, PhaseCompleted, PhaseAbandoned:
		return nil
	default:
		return ErrBusy
	}
}

// adopt makes g the session's game. gsub, when given, is already subscribed to g.
func (s *Session) adopt(ctx context.Context, g *store.Game, gsub store.Subscription) error {
	if gsub == nil {
		sub, err := s.st.SubscribeGame(ctx, g.ID)
		if err != nil {
			return err
		}
		gsub = sub
	}
	// pick up writes that landed before the feed was live
	if cur, err := s.st.GetGame(ctx, g.ID); err == nil {
		g = cur
	}
	s.mu.Lock()
	s.resetLocked()
	s.game = g.Clone()
	s.tc = g.TimeControl
	s.roomCode = g.RoomCode
	s.color = g.ColorOf(s.user.ID)
	s.phase = phaseOf(g.Status)
	s.pos = positionOf(g)
	s.gameSub = gsub
	s.startClockLocked()
	snap := s.changedLocked()
	s.mu.Unlock()
	go s.listen(gsub, s.onGameEvent)
	s.notify(snap)
	return nil
}

func (s *Session) startClockLocked() {
	g := s.game
	var c *clock.Clock
	opts := append([]clock.Option{clock.OnFlag(func(loser nchess.Color) {
		// the flag can fire inside Switch while s.mu is held
		go s.handleFlag(c, loser)
	})}, s.clockOpts...)
	c = clock.New(g.WhiteTimeRemaining, g.BlackTimeRemaining, opts...)
	c.Sync(g.WhiteTimeRemaining, g.BlackTimeRemaining, s.pos.Turn(), g.Status == store.StatusActive)
	ctx, cancel := context.WithCancel(s.ctx)
	s.clk = c
	s.clkCancel = cancel
	go c.Run(ctx)
}

// releaseLocked closes feeds and stops the clock.
func (s *Session) releaseLocked() {
	for _, sub := range []store.Subscription{s.gameSub, s.playerSub, s.queueSub} {
		if sub != nil {
			_ = sub.Close()
		}
	}
	s.gameSub, s.playerSub, s.queueSub = nil, nil, nil
	if s.clkCancel != nil {
		s.clkCancel()
		s.clkCancel = nil
	}
	s.clk = nil
}

func (s *Session) resetLocked() {
	s.releaseLocked()
	s.phase = PhaseIdle
	s.tc = ""
	s.roomCode = ""
	s.game = nil
	s.pos = nil
	s.color = nchess.NoColor
	s.pendingTimeout = nchess.NoColor
}

func (s *Session) listen(sub store.Subscription, fn func(store.Subscription, store.Event)) {
	for ev := range sub.Events() {
		fn(sub, ev)
	}
}

// onPlayerEvent adopts a game another session created for us while searching.
func (s *Session) onPlayerEvent(sub store.Subscription, ev store.Event) {
	if ev.Kind != store.EventInsert || ev.Game == nil || ev.Game.Terminal() {
		return
	}
	if ev.Game.ColorOf(s.user.ID) == nchess.NoColor {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	live := s.playerSub == sub && s.phase == PhaseSearching
	s.mu.Unlock()
	if !live {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, backgroundTimeout)
	defer cancel()
	obslog.L().Info("online_match_notified", zap.String("game_id", ev.Game.ID), zap.String("user_id", s.user.ID))
	if err := s.adopt(ctx, ev.Game, nil); err != nil {
		obslog.L().Warn("online_adopt_error", zap.String("game_id", ev.Game.ID), zap.Error(err))
	}
}

// onQueueEvent claims a peer who queued after our own lookup missed them.
func (s *Session) onQueueEvent(sub store.Subscription, ev store.Event) {
	if ev.Kind != store.EventQueue || ev.Entry == nil || ev.Entry.UserID == s.user.ID {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	live := s.queueSub == sub && s.phase == PhaseSearching
	tc := s.tc
	s.mu.Unlock()
	if !live || ev.Entry.TimeControl != tc {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, backgroundTimeout)
	defer cancel()
	g := s.newMatchGame(ev.Entry.UserID, tc)
	err := s.st.ClaimMatch(ctx, store.Match{Opponent: ev.Entry.UserID, Claimer: s.user.ID, ClaimerQueued: true, Game: g})
	switch {
	case err == nil:
		obslog.L().Info("online_match_claimed",
			zap.String("game_id", g.ID),
			zap.String("user_id", s.user.ID),
			zap.String("opponent_id", ev.Entry.UserID),
			zap.Bool("push", true),
		)
		if err := s.adopt(ctx, g, nil); err != nil {
			obslog.L().Warn("online_adopt_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	case errors.Is(err, store.ErrEntryGone):
		obslog.L().Debug("online_match_lost", zap.String("user_id", s.user.ID), zap.String("opponent_id", ev.Entry.UserID))
	default:
		obslog.L().Warn("online_match_claim_error", zap.String("user_id", s.user.ID), zap.Error(err))
	}
}

// onGameEvent treats every update as authoritative except exact echoes.
func (s *Session) onGameEvent(sub store.Subscription, ev store.Event) {
	if ev.Game == nil {
		return
	}
	s.mu.Lock()
	if s.gameSub != sub || s.game == nil || ev.Game.ID != s.game.ID || sameState(ev.Game, s.game) {
		s.mu.Unlock()
		return
	}
	s.applyLocked(ev.Game)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) applyLocked(in *store.Game) {
	if in.Ply() < s.game.Ply() {
		obslog.L().Warn("online_resync_stale",
			zap.String("game_id", in.ID),
			zap.Int("local_ply", s.game.Ply()),
			zap.Int("remote_ply", in.Ply()),
		)
	}
	s.game = in.Clone()
	s.pos = positionOf(in)
	s.color = in.ColorOf(s.user.ID)
	s.phase = phaseOf(in.Status)
	s.pendingTimeout = nchess.NoColor
	if s.clk != nil {
		s.clk.Sync(in.WhiteTimeRemaining, in.BlackTimeRemaining, s.pos.Turn(), in.Status == store.StatusActive)
	}
}

func (s *Session) commitLocal(g *store.Game) {
	s.mu.Lock()
	if s.game == nil || s.game.ID != g.ID {
		s.mu.Unlock()
		return
	}
	s.applyLocked(g)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// resync adopts the stored record after a write was refused.
func (s *Session) resync(ctx context.Context, id string) {
	cur, err := s.st.GetGame(ctx, id)
	if err != nil {
		obslog.L().Warn("online_resync_error", zap.String("game_id", id), zap.Error(err))
		return
	}
	obslog.L().Info("online_resync", zap.String("game_id", id), zap.String("status", string(cur.Status)))
	s.commitLocal(cur)
}

// handleFlag runs when the local clock reaches zero. Only the side still on
// time writes the result; the flagged side just shows it.
func (s *Session) handleFlag(c *clock.Clock, loser nchess.Color) {
	s.mu.Lock()
	if c == nil || s.clk != c || s.phase != PhaseActive || s.game == nil {
		s.mu.Unlock()
		return
	}
	if loser == s.color {
		g := s.game.Clone()
		zeroClock(g, loser)
		g.Finish(store.WinFor(rules.Opponent(loser)), store.TermTimeout)
		s.game = g
		s.phase = PhaseCompleted
		snap := s.changedLocked()
		s.mu.Unlock()
		obslog.L().Info("online_flagged", zap.String("game_id", g.ID), zap.String("user_id", s.user.ID))
		s.notify(snap)
		return
	}
	id := s.game.ID
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, backgroundTimeout)
	defer cancel()
	_ = s.commitTimeout(ctx, id, loser)
}

// commitTimeout must run under opMu. A failed write leaves the timeout
// pending in the snapshot for ClaimTimeout.
func (s *Session) commitTimeout(ctx context.Context, id string, loser nchess.Color) error {
	updated, err := s.st.Mutate(ctx, id, func(cur *store.Game) error {
		if cur.Terminal() {
			return ErrNotActive
		}
		if cur.Turn() != loser {
			return errClockMoved
		}
		zeroClock(cur, loser)
		cur.Finish(store.WinFor(rules.Opponent(loser)), store.TermTimeout)
		cur.PGN = archive.BuildPGN(cur)
		return nil
	})
	switch {
	case errors.Is(err, ErrNotActive), errors.Is(err, errClockMoved):
		obslog.L().Info("online_timeout_skip", zap.String("game_id", id), zap.Error(err))
		s.setPendingTimeout(id, nchess.NoColor)
		return ErrNotActive
	case err != nil:
		obslog.L().Warn("online_timeout_commit_error", zap.String("game_id", id), zap.Error(err))
		s.setPendingTimeout(id, loser)
		return err
	}
	obslog.L().Info("online_timeout_commit", zap.String("game_id", id), zap.String("loser", rules.ColorName(loser)), zap.String("winner_id", updated.WinnerID))
	s.commitLocal(updated)
	s.archive(ctx, updated)
	return nil
}

func (s *Session) setPendingTimeout(id string, loser nchess.Color) {
	s.mu.Lock()
	if s.game == nil || s.game.ID != id || s.pendingTimeout == loser {
		s.mu.Unlock()
		return
	}
	s.pendingTimeout = loser
	snap := s.changedLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func zeroClock(g *store.Game, c nchess.Color) {
	if c == nchess.White {
		g.WhiteTimeRemaining = 0
	} else {
		g.BlackTimeRemaining = 0
	}
}

func (s *Session) archive(ctx context.Context, g *store.Game) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.SaveResult(ctx, g); err != nil {
		obslog.L().Error("archive_persist_error", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	obslog.L().Info("archive_persist", zap.String("game_id", g.ID), zap.String("result", string(g.Result)), zap.String("termination", g.Termination))
}

func (s *Session) newMatchGame(opponent string, tc clock.TimeControl) *store.Game {
	white, black := s.user.ID, opponent
	if !s.coin() {
		white, black = opponent, s.user.ID
	}
	g := s.newGame(tc)
	g.WhitePlayerID = white
	g.BlackPlayerID = black
	g.Status = store.StatusActive
	return g
}

func (s *Session) newRoomGame(code string, tc clock.TimeControl) *store.Game {
	g := s.newGame(tc)
	g.WhitePlayerID = s.user.ID
	g.Status = store.StatusWaiting
	g.RoomCode = code
	g.IsPrivate = true
	return g
}

func (s *Session) newGame(tc clock.TimeControl) *store.Game {
	now := s.now()
	base := tc.BaseMillis()
	return &store.Game{
		ID:                 s.newID(),
		FEN:                rules.StartFEN,
		Moves:              []string{},
		MovesSAN:           []string{},
		CurrentTurn:        "white",
		WhiteTimeRemaining: base,
		BlackTimeRemaining: base,
		TimeControl:        tc,
		LastMoveAt:         now,
		CreatedAt:          now,
	}
}

func (s *Session) changedLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:        s.version,
		Phase:          s.phase,
		UserID:         s.user.ID,
		Color:          s.color,
		TimeControl:    s.tc,
		RoomCode:       s.roomCode,
		TimeoutPending: s.pendingTimeout != nchess.NoColor,
	}
	if s.game != nil {
		snap.Game = s.game.Clone()
		snap.MovesSAN = snap.Game.MovesSAN
	}
	if s.pos != nil {
		snap.FEN = s.pos.FEN()
		snap.Turn = s.pos.Turn()
		snap.IsCheck = s.pos.IsCheck()
		snap.IsCheckmate = s.pos.IsCheckmate()
		snap.IsStalemate = s.pos.IsStalemate()
		snap.IsDraw = s.pos.IsDraw()
		snap.Captured = s.pos.Captured()
		snap.IsGameOver = s.pos.IsGameOver() || (s.game != nil && s.game.Terminal())
	}
	if s.clk != nil {
		snap.Clock = s.clk.Snapshot()
	}
	return snap
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}

// NormalizeRoomCode upper-cases user input; lookups are case-insensitive.
func NormalizeRoomCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(roomCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

func roomCode() (string, error) {
	b := make([]byte, RoomCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b), nil
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err != nil || n.Int64() == 1
}
