package online

import (
	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSearching Phase = "searching"
	PhaseWaiting   Phase = "waiting"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
	PhaseAbandoned Phase = "abandoned"
)

func phaseOf(s store.Status) Phase {
	switch s {
	case store.StatusWaiting:
		return PhaseWaiting
	case store.StatusActive:
		return PhaseActive
	case store.StatusCompleted:
		return PhaseCompleted
	case store.StatusAbandoned:
		return PhaseAbandoned
	default:
		return PhaseIdle
	}
}

// Snapshot is the client view of a session. Board flags are always derived
// from the position, never copied from the record.
type Snapshot struct {
	Version     uint64
	Phase       Phase
	UserID      string
	Color       nchess.Color
	TimeControl clock.TimeControl
	RoomCode    string
	Game        *store.Game
	FEN         string
	Turn        nchess.Color
	MovesSAN    []string
	IsCheck     bool
	IsCheckmate bool
	IsStalemate bool
	IsDraw      bool
	IsGameOver  bool
	Captured    rules.Captured
	Clock       clock.Snapshot

	// TimeoutPending is set while the opponent's flag has fallen but the
	// result could not be stored.
	TimeoutPending bool
}

// positionOf rebuilds from the move log, falling back to the stored FEN.
func positionOf(g *store.Game) *rules.Position {
	p, err := rules.Replay("", g.Moves)
	if err == nil {
		return p
	}
	obslog.L().Warn("online_replay_fallback", zap.String("game_id", g.ID), zap.Int("ply", g.Ply()), zap.Error(err))
	if p, ferr := rules.FromFEN(g.FEN); ferr == nil {
		return p
	}
	return rules.Start()
}

// sameState reports whether an incoming record matches the held one in every
// field a move, join or finish changes.
func sameState(a, b *store.Game) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID &&
		a.Ply() == b.Ply() &&
		a.FEN == b.FEN &&
		a.Status == b.Status &&
		a.Result == b.Result &&
		a.WhitePlayerID == b.WhitePlayerID &&
		a.BlackPlayerID == b.BlackPlayerID &&
		a.WhiteTimeRemaining == b.WhiteTimeRemaining &&
		a.BlackTimeRemaining == b.BlackTimeRemaining
}
