package localgame

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/bot"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
)

var (
	ErrNotYourTurn      = errf("not your turn")
	ErrGameOver         = errf("game is over")
	ErrUndoNotAvailable = errf("undo needs at least two moves")
	ErrClosed           = errf("session closed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const (
	DefaultThinkMin = 300 * time.Millisecond
	DefaultThinkMax = 700 * time.Millisecond
)

type Config struct {
	PlayerColor nchess.Color
	Difficulty  bot.Difficulty
	// StartFEN is optional; empty starts from the initial position.
	StartFEN string
	// TimeControl is optional; unset means an untimed game.
	TimeControl clock.TimeControl
	ThinkMin    time.Duration
	ThinkMax    time.Duration
}

// State is what a board view needs after every change.
type State struct {
	Version     uint64
	FEN         string
	Turn        nchess.Color
	PlayerColor nchess.Color
	Difficulty  bot.Difficulty
	MovesUCI    []string
	MovesSAN    []string
	IsCheck     bool
	IsCheckmate bool
	IsStalemate bool
	IsDraw      bool
	IsGameOver  bool
	Result      string
	Method      string
	Captured    rules.Captured
	BotThinking bool
	Clock       *clock.Snapshot
	TimedOut    nchess.Color
}

// Scheduler runs fn after d and returns a cancel func.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

func afterFunc(d time.Duration, fn func()) func() bool { return time.AfterFunc(d, fn).Stop }

type Option func(*Session)

func WithScheduler(s Scheduler) Option { return func(g *Session) { g.schedule = s } }

func WithDelay(fn func() time.Duration) Option { return func(g *Session) { g.delay = fn } }

// WithClockOptions is applied to the clock of a timed game.
func WithClockOptions(opts ...clock.Option) Option {
	return func(g *Session) { g.clockOpts = append(g.clockOpts, opts...) }
}

// OnChange observes every state change, called outside the session lock.
func OnChange(fn func(State)) Option { return func(g *Session) { g.onChange = fn } }

// Session is a single human-vs-bot game.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	start    *rules.Position
	pos      *rules.Position
	player   nchess.Color
	selector *bot.Selector

	schedule Scheduler
	delay    func() time.Duration
	pending  func() bool
	gen      uint64

	clk       *clock.Clock
	clockOpts []clock.Option
	clkCancel context.CancelFunc
	timedOut  nchess.Color

	version  uint64
	closed   bool
	onChange func(State)
}

func New(cfg Config, selector *bot.Selector, opts ...Option) (*Session, error) {
	start, err := rules.FromFEN(cfg.StartFEN)
	if err != nil {
		return nil, err
	}
	if cfg.PlayerColor != nchess.Black {
		cfg.PlayerColor = nchess.White
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = bot.Medium
	}
	if cfg.ThinkMin <= 0 {
		cfg.ThinkMin = DefaultThinkMin
	}
	if cfg.ThinkMax < cfg.ThinkMin {
		cfg.ThinkMax = max(DefaultThinkMax, cfg.ThinkMin)
	}
	if selector == nil {
		selector = bot.NewSelector()
	}
	s := &Session{
		cfg:      cfg,
		start:    start,
		pos:      start,
		player:   cfg.PlayerColor,
		selector: selector,
		schedule: afterFunc,
	}
	s.delay = s.randomDelay
	for _, o := range opts {
		o(s)
	}
	if cfg.TimeControl.Valid() {
		s.startClock()
	}
	s.mu.Lock()
	s.maybeScheduleBotLocked()
	s.mu.Unlock()
	return s, nil
}

func (s *Session) randomDelay() time.Duration {
	spread := int64(s.cfg.ThinkMax - s.cfg.ThinkMin)
	if spread <= 0 {
		return s.cfg.ThinkMin
	}
	return s.cfg.ThinkMin + time.Duration(rand.Int63n(spread+1))
}

func (s *Session) startClock() {
	base := s.cfg.TimeControl.BaseMillis()
	// the flag can fire inside Switch while s.mu is held
	opts := append([]clock.Option{clock.OnFlag(func(loser nchess.Color) { go s.handleFlag(loser) })}, s.clockOpts...)
	s.clk = clock.New(base, base, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	s.clkCancel = cancel
	s.clk.Start(s.pos.Turn())
	go s.clk.Run(ctx)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// MakeMove applies the human move and schedules the bot reply.
func (s *Session) MakeMove(from, to, promotion string) (State, error) {
	s.mu.Lock()
	if err := s.checkPlayableLocked(); err != nil {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, err
	}
	if s.pos.Turn() != s.player {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrNotYourTurn
	}
	m, err := rules.NewMove(from, to, promotion)
	if err != nil {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, err
	}
	next, err := s.pos.Apply(m)
	if err != nil {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, err
	}
	applied := s.advanceLocked(next)
	s.maybeScheduleBotLocked()
	st := s.changedLocked()
	s.mu.Unlock()
	s.notify(st)
	if !applied {
		return st, ErrGameOver
	}
	return st, nil
}

// Undo takes back exactly two plies. A finished game can be taken back
// unless it ended on time.
func (s *Session) Undo() (State, error) {
	s.mu.Lock()
	if s.closed {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrClosed
	}
	if s.clk != nil && s.timedOut == nchess.NoColor && s.flaggedLocked(s.clk.Charge()) {
		st := s.changedLocked()
		s.mu.Unlock()
		s.notify(st)
		return st, ErrGameOver
	}
	if s.timedOut != nchess.NoColor {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrGameOver
	}
	if s.pos.Ply() < 2 {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrUndoNotAvailable
	}
	s.cancelPendingLocked()
	hist := s.pos.UCI()
	prev, err := rules.Replay(s.start.Base(), hist[:len(hist)-2])
	if err != nil {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, err
	}
	s.pos = prev
	if s.clk != nil {
		// restarts a clock paused by mate or draw
		s.clk.Start(s.pos.Turn())
	}
	s.maybeScheduleBotLocked()
	st := s.changedLocked()
	s.mu.Unlock()
	s.notify(st)
	return st, nil
}

// Reset returns to the starting position with an empty log.
func (s *Session) Reset() State {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.pos = s.start
	s.timedOut = nchess.NoColor
	if s.clk != nil {
		base := s.cfg.TimeControl.BaseMillis()
		s.clk.Sync(base, base, s.pos.Turn(), !s.closed)
	}
	s.maybeScheduleBotLocked()
	st := s.changedLocked()
	s.mu.Unlock()
	s.notify(st)
	return st
}

// FlipBoard swaps the human's side. Position and log stay as they are.
func (s *Session) FlipBoard() State {
	s.mu.Lock()
	s.player = rules.Opponent(s.player)
	if s.pos.Turn() == s.player {
		s.cancelPendingLocked()
	}
	s.maybeScheduleBotLocked()
	st := s.changedLocked()
	s.mu.Unlock()
	s.notify(st)
	return st
}

// Close stops timers. The session rejects moves afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancelPendingLocked()
	if s.clkCancel != nil {
		s.clkCancel()
	}
	s.mu.Unlock()
}

func (s *Session) botMove(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed || s.isOverLocked() || s.pos.Turn() == s.player {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	m, ok := s.selector.Select(s.pos, s.cfg.Difficulty)
	if !ok {
		s.mu.Unlock()
		return
	}
	next, err := s.pos.Apply(m)
	if err != nil {
		s.mu.Unlock()
		obslog.L().Error("local_bot_move_error", zap.String("move", m.UCI()), zap.Error(err))
		return
	}
	if !s.advanceLocked(next) {
		st := s.changedLocked()
		s.mu.Unlock()
		obslog.L().Info("local_bot_flagged", zap.String("difficulty", string(s.cfg.Difficulty)))
		s.notify(st)
		return
	}
	st := s.changedLocked()
	s.mu.Unlock()
	obslog.L().Debug("local_bot_move",
		zap.String("move", m.UCI()),
		zap.String("difficulty", string(s.cfg.Difficulty)),
		zap.Int("ply", len(st.MovesUCI)),
	)
	s.notify(st)
}

// handleFlag runs on its own goroutine after the clock expires. A Reset in
// between clears the flag, so a late call is dropped.
func (s *Session) handleFlag(loser nchess.Color) {
	s.mu.Lock()
	if s.closed || s.clk == nil || s.pos.IsGameOver() || s.timedOut != nchess.NoColor {
		s.mu.Unlock()
		return
	}
	snap := s.clk.Snapshot()
	if !snap.Flagged || snap.Loser != loser {
		s.mu.Unlock()
		return
	}
	s.flaggedLocked(snap)
	st := s.changedLocked()
	s.mu.Unlock()
	s.notify(st)
}

func (s *Session) checkPlayableLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.isOverLocked() {
		return ErrGameOver
	}
	return nil
}

func (s *Session) isOverLocked() bool {
	return s.pos.IsGameOver() || s.timedOut != nchess.NoColor
}

// advanceLocked charges the mover and plays next. A move made after the
// mover's flag fell is dropped and the game ends on time.
func (s *Session) advanceLocked(next *rules.Position) bool {
	if s.clk != nil {
		var snap clock.Snapshot
		if next.IsGameOver() {
			snap = s.clk.Pause()
		} else {
			snap = s.clk.Switch(next.Turn())
		}
		if s.flaggedLocked(snap) {
			return false
		}
	}
	s.pos = next
	return true
}

func (s *Session) flaggedLocked(snap clock.Snapshot) bool {
	if !snap.Flagged {
		return false
	}
	if s.timedOut == nchess.NoColor {
		s.timedOut = snap.Loser
		s.cancelPendingLocked()
	}
	return true
}

func (s *Session) maybeScheduleBotLocked() {
	if s.closed || s.pending != nil || s.isOverLocked() || s.pos.Turn() == s.player {
		return
	}
	s.gen++
	gen := s.gen
	s.pending = s.schedule(s.delay(), func() { s.botMove(gen) })
}

func (s *Session) cancelPendingLocked() {
	if s.pending != nil {
		s.pending()
		s.pending = nil
	}
	s.gen++
}

func (s *Session) changedLocked() State {
	s.version++
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	p := s.pos
	st := State{
		Version:     s.version,
		FEN:         p.FEN(),
		Turn:        p.Turn(),
		PlayerColor: s.player,
		Difficulty:  s.cfg.Difficulty,
		MovesUCI:    p.UCI(),
		MovesSAN:    p.SAN(),
		IsCheck:     p.IsCheck(),
		IsCheckmate: p.IsCheckmate(),
		IsStalemate: p.IsStalemate(),
		IsDraw:      p.IsDraw(),
		Captured:    p.Captured(),
		BotThinking: s.pending != nil,
		TimedOut:    s.timedOut,
	}
	st.IsGameOver = st.IsCheckmate || st.IsDraw || s.timedOut != nchess.NoColor
	switch {
	case s.timedOut != nchess.NoColor:
		st.Result = rules.ColorName(rules.Opponent(s.timedOut)) + "_wins"
		st.Method = "timeout"
	case st.IsCheckmate:
		st.Result = rules.ColorName(p.Winner()) + "_wins"
		st.Method = "checkmate"
	case st.IsDraw:
		st.Result = "draw"
		st.Method = strings.TrimSpace(p.Method())
	}
	if s.clk != nil {
		snap := s.clk.Snapshot()
		st.Clock = &snap
	}
	return st
}

func (s *Session) notify(st State) {
	if s.onChange != nil {
		s.onChange(st)
	}
}
