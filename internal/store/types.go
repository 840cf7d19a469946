package store

import (
	"slices"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/clock"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWins Result = "white_wins"
	ResultBlackWins Result = "black_wins"
	ResultDraw      Result = "draw"
)

// WinFor is the result naming c as the winner.
func WinFor(c nchess.Color) Result {
	if c == nchess.White {
		return ResultWhiteWins
	}
	return ResultBlackWins
}

// Termination values stored alongside a result.
const (
	TermCheckmate   = "checkmate"
	TermResignation = "resignation"
	TermTimeout     = "timeout"
	TermAbandoned   = "abandoned"
)

// Game is the shared record both players read and write.
type Game struct {
	ID                 string            `json:"id"`
	FEN                string            `json:"fen"`
	Moves              []string          `json:"moves"`
	MovesSAN           []string          `json:"moves_san"`
	CurrentTurn        string            `json:"current_turn"`
	WhitePlayerID      string            `json:"white_player_id"`
	BlackPlayerID      string            `json:"black_player_id,omitempty"`
	WhiteTimeRemaining int64             `json:"white_time_remaining"`
	BlackTimeRemaining int64             `json:"black_time_remaining"`
	Status             Status            `json:"status"`
	Result             Result            `json:"result,omitempty"`
	WinnerID           string            `json:"winner_id,omitempty"`
	Termination        string            `json:"termination,omitempty"`
	RoomCode           string            `json:"room_code,omitempty"`
	IsPrivate          bool              `json:"is_private"`
	TimeControl        clock.TimeControl `json:"time_control"`
	PGN                string            `json:"pgn,omitempty"`
	LastMoveAt         time.Time         `json:"last_move_at"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Moves = slices.Clone(g.Moves)
	c.MovesSAN = slices.Clone(g.MovesSAN)
	return &c
}

// Ply is the number of half-moves in the log.
func (g *Game) Ply() int { return len(g.Moves) }

// Turn decodes CurrentTurn; anything but "black" is white.
func (g *Game) Turn() nchess.Color {
	if strings.EqualFold(g.CurrentTurn, "black") {
		return nchess.Black
	}
	return nchess.White
}

// ColorOf returns the seat held by userID, or NoColor.
func (g *Game) ColorOf(userID string) nchess.Color {
	switch {
	case userID == "":
		return nchess.NoColor
	case g.WhitePlayerID == userID:
		return nchess.White
	case g.BlackPlayerID == userID:
		return nchess.Black
	default:
		return nchess.NoColor
	}
}

func (g *Game) PlayerID(c nchess.Color) string {
	switch c {
	case nchess.White:
		return g.WhitePlayerID
	case nchess.Black:
		return g.BlackPlayerID
	default:
		return ""
	}
}

func (g *Game) Remaining(c nchess.Color) int64 {
	if c == nchess.White {
		return g.WhiteTimeRemaining
	}
	return g.BlackTimeRemaining
}

func (g *Game) Terminal() bool { return g.Status.Terminal() }

// Players lists the non-empty player ids.
func (g *Game) Players() []string {
	out := make([]string, 0, 2)
	if g.WhitePlayerID != "" {
		out = append(out, g.WhitePlayerID)
	}
	if g.BlackPlayerID != "" {
		out = append(out, g.BlackPlayerID)
	}
	return out
}

// Finish marks the record completed with result and fills winner_id.
func (g *Game) Finish(result Result, termination string) {
	g.Status = StatusCompleted
	g.Result = result
	g.Termination = termination
	switch result {
	case ResultWhiteWins:
		g.WinnerID = g.WhitePlayerID
	case ResultBlackWins:
		g.WinnerID = g.BlackPlayerID
	default:
		g.WinnerID = ""
	}
}

// QueueEntry is a matchmaking request awaiting pairing.
type QueueEntry struct {
	UserID      string            `json:"user_id"`
	TimeControl clock.TimeControl `json:"time_control"`
	Rating      int               `json:"rating"`
	JoinedAt    time.Time         `json:"joined_at"`
}

// Match is the atomic pairing of a claimer with a queued opponent.
type Match struct {
	Opponent string
	Claimer  string
	// ClaimerQueued requires the claimer's own entry to be live and consumes it.
	ClaimerQueued bool
	Game          *Game
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventQueue  EventKind = "queue"
)

// Event is one change-feed delivery. Game is set for insert and update,
// Entry for queue.
type Event struct {
	Kind  EventKind   `json:"kind"`
	Game  *Game       `json:"game,omitempty"`
	Entry *QueueEntry `json:"entry,omitempty"`
}

func (e Event) clone() Event {
	e.Game = e.Game.Clone()
	if e.Entry != nil {
		ent := *e.Entry
		e.Entry = &ent
	}
	return e
}

// Topic names shared by every backend.
func GameTopic(id string) string             { return "game:" + id }
func PlayerTopic(userID string) string       { return "player:" + userID }
func QueueTopic(tc clock.TimeControl) string { return "queue:" + string(tc) }
