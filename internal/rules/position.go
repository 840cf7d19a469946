package rules

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is an immutable snapshot: a base position plus the plies played
// from it. Apply returns a new Position and never touches the receiver.
type Position struct {
	base   string
	game   *nchess.Game
	played []Played
}

// Start returns the standard initial position.
func Start() *Position { return &Position{game: nchess.NewGame()} }

// FromFEN parses a serialized position. Empty input or "startpos" yields Start().
func FromFEN(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" || fen == StartFEN {
		return Start(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return &Position{base: fen, game: nchess.NewGame(opt)}, nil
}

// Replay rebuilds a position by applying square-pair moves to base.
// Rebuilding from history keeps repetition state that a bare FEN loses.
func Replay(base string, moves []string) (*Position, error) {
	p, err := FromFEN(base)
	if err != nil {
		return nil, err
	}
	for i, raw := range moves {
		m, err := ParseMove(raw)
		if err != nil {
			return nil, fmt.Errorf("replay ply %d: %w", i+1, err)
		}
		if err := p.push(m); err != nil {
			return nil, fmt.Errorf("replay ply %d %s: %w", i+1, raw, err)
		}
	}
	return p, nil
}

// Apply returns the position after m, or ErrIllegalMove with the receiver unchanged.
// A pawn reaching the last rank without a promotion piece promotes to a queen.
func (p *Position) Apply(m Move) (*Position, error) {
	next := &Position{
		base:   p.base,
		game:   p.game.Clone(),
		played: slices.Clone(p.played),
	}
	if err := next.push(m); err != nil {
		return nil, err
	}
	return next, nil
}

func (p *Position) push(m Move) error {
	chosen := p.match(m)
	if chosen == nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	pos := p.game.Position()
	board := pos.Board()
	mover := board.Piece(chosen.S1())
	rec := Played{
		Move:     fromLib(chosen),
		SAN:      nchess.AlgebraicNotation{}.Encode(pos, chosen),
		Piece:    mover.Type(),
		Color:    mover.Color(),
		Captured: capturedPiece(board, chosen),
	}
	if err := p.game.Move(chosen, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	p.played = append(p.played, rec)
	return nil
}

func (p *Position) match(m Move) *nchess.Move {
	want := m.Promotion
	for _, cand := range p.game.ValidMoves() {
		if cand.S1() != m.From || cand.S2() != m.To {
			continue
		}
		promo := cand.Promo()
		if promo != nchess.NoPieceType && want == nchess.NoPieceType {
			want = nchess.Queen
		}
		if promo != want {
			continue
		}
		chosen := cand
		return &chosen
	}
	return nil
}

func capturedPiece(board *nchess.Board, mv *nchess.Move) nchess.PieceType {
	if target := board.Piece(mv.S2()); target != nchess.NoPiece {
		return target.Type()
	}
	mover := board.Piece(mv.S1())
	if mover != nchess.NoPiece && mover.Type() == nchess.Pawn && mv.S1().File() != mv.S2().File() {
		return nchess.Pawn // en passant
	}
	return nchess.NoPieceType
}

// LegalMoves lists every legal move in the engine's generation order.
func (p *Position) LegalMoves() []Move {
	valid := p.game.ValidMoves()
	out := make([]Move, 0, len(valid))
	for i := range valid {
		out = append(out, fromLib(&valid[i]))
	}
	return out
}

// LegalMovesFrom lists legal moves starting on sq.
func (p *Position) LegalMovesFrom(sq nchess.Square) []Move {
	var out []Move
	for _, m := range p.LegalMoves() {
		if m.From == sq {
			out = append(out, m)
		}
	}
	return out
}

// Describe reports the moving piece and the piece a legal move would capture.
func (p *Position) Describe(m Move) (piece, captured nchess.PieceType) {
	board := p.game.Position().Board()
	if mover := board.Piece(m.From); mover != nchess.NoPiece {
		piece = mover.Type()
	}
	lib := p.match(m)
	if lib == nil {
		return piece, nchess.NoPieceType
	}
	return piece, capturedPiece(board, lib)
}

func (p *Position) FEN() string { return p.game.Position().String() }

// Base is the FEN the history was played from; empty for the standard start.
func (p *Position) Base() string { return p.base }

func (p *Position) Turn() nchess.Color { return p.game.Position().Turn() }

// Ply is the number of moves applied since the base position.
func (p *Position) Ply() int { return len(p.played) }

// MoveNumber is the full-move counter from the serialized position.
func (p *Position) MoveNumber() int {
	fields := strings.Fields(p.FEN())
	if len(fields) < 6 {
		return 1 + len(p.played)/2
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (p *Position) PieceAt(sq nchess.Square) nchess.Piece {
	return p.game.Position().Board().Piece(sq)
}

func (p *Position) IsCheck() bool {
	pos := p.game.Position()
	return inCheck(pos.Board(), pos.Turn())
}

func (p *Position) IsCheckmate() bool {
	return p.game.Position().Status() == nchess.Checkmate
}

func (p *Position) IsStalemate() bool {
	return p.game.Position().Status() == nchess.Stalemate
}

// IsDraw covers stalemate, insufficient material, repetition and the move-count rules.
func (p *Position) IsDraw() bool {
	if p.IsStalemate() || p.game.Outcome() == nchess.Draw {
		return true
	}
	for _, m := range p.game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			return true
		}
	}
	return false
}

func (p *Position) IsGameOver() bool { return p.IsCheckmate() || p.IsDraw() }

// Winner returns the side that delivered mate, or NoColor.
func (p *Position) Winner() nchess.Color {
	if !p.IsCheckmate() {
		return nchess.NoColor
	}
	return Opponent(p.Turn())
}

// Method names how the game ended, or "" while it is still going.
func (p *Position) Method() string {
	switch {
	case p.IsCheckmate():
		return "checkmate"
	case p.IsStalemate():
		return "stalemate"
	case !p.IsDraw():
		return ""
	}
	switch p.game.Method() {
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	}
	for _, e := range p.game.EligibleDraws() {
		switch e {
		case nchess.ThreefoldRepetition:
			return "threefold_repetition"
		case nchess.FiftyMoveRule:
			return "fifty_move_rule"
		}
	}
	return "draw"
}

// History returns a copy of the plies applied since the base position.
func (p *Position) History() []Played { return slices.Clone(p.played) }

// Last returns the most recent ply.
func (p *Position) Last() (Played, bool) {
	if len(p.played) == 0 {
		return Played{}, false
	}
	return p.played[len(p.played)-1], true
}

func (p *Position) UCI() []string {
	out := make([]string, len(p.played))
	for i, pl := range p.played {
		out[i] = pl.Move.UCI()
	}
	return out
}

func (p *Position) SAN() []string {
	out := make([]string, len(p.played))
	for i, pl := range p.played {
		out[i] = pl.SAN
	}
	return out
}

// Captured scans the history for captures.
func (p *Position) Captured() Captured {
	var c Captured
	for _, pl := range p.played {
		if pl.Captured == nchess.NoPieceType {
			continue
		}
		if pl.Color == nchess.White {
			c.ByWhite = append(c.ByWhite, pl.Captured)
		} else {
			c.ByBlack = append(c.ByBlack, pl.Captured)
		}
	}
	return c
}
