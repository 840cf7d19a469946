package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Errors
var (
	ErrIllegalMove = errf("illegal move")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

var pieceValues = map[nchess.PieceType]int{
	nchess.Pawn:   1,
	nchess.Knight: 3,
	nchess.Bishop: 3,
	nchess.Rook:   5,
	nchess.Queen:  9,
	nchess.King:   0,
}

// PieceValue returns the material value of a piece type. Kings are worth 0.
func PieceValue(pt nchess.PieceType) int { return pieceValues[pt] }

// ColorName maps a side to "white"/"black".
func ColorName(c nchess.Color) string {
	switch c {
	case nchess.White:
		return "white"
	case nchess.Black:
		return "black"
	default:
		return ""
	}
}

// ParseColor accepts "white"/"black" and the one-letter forms.
func ParseColor(s string) (nchess.Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return nchess.White, true
	case "black", "b":
		return nchess.Black, true
	default:
		return nchess.NoColor, false
	}
}

// Opponent returns the other side.
func Opponent(c nchess.Color) nchess.Color {
	switch c {
	case nchess.White:
		return nchess.Black
	case nchess.Black:
		return nchess.White
	default:
		return nchess.NoColor
	}
}

// Played records one applied ply.
type Played struct {
	Move     Move
	SAN      string
	Piece    nchess.PieceType
	Color    nchess.Color
	Captured nchess.PieceType
}

// Captured is the captured-piece tally bucketed by the capturing side.
type Captured struct {
	ByWhite []nchess.PieceType
	ByBlack []nchess.PieceType
}

// Value sums the material a side has taken.
func (c Captured) Value(color nchess.Color) int {
	var list []nchess.PieceType
	switch color {
	case nchess.White:
		list = c.ByWhite
	case nchess.Black:
		list = c.ByBlack
	}
	total := 0
	for _, pt := range list {
		total += PieceValue(pt)
	}
	return total
}

func (c Captured) IsEmpty() bool { return len(c.ByWhite) == 0 && len(c.ByBlack) == 0 }
