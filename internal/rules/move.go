package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Move is a from/to square pair with an optional promotion piece.
type Move struct {
	From      nchess.Square
	To        nchess.Square
	Promotion nchess.PieceType
}

const files = "abcdefgh"

// ParseSquare reads algebraic coordinates such as "e4".
func ParseSquare(s string) (nchess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 {
		return nchess.NoSquare, fmt.Errorf("%w: bad square %q", ErrIllegalMove, s)
	}
	f := strings.IndexByte(files, s[0])
	r := int(s[1]) - '1'
	if f < 0 || r < 0 || r > 7 {
		return nchess.NoSquare, fmt.Errorf("%w: bad square %q", ErrIllegalMove, s)
	}
	return nchess.NewSquare(nchess.File(f), nchess.Rank(r)), nil
}

// SquareName renders a square as algebraic coordinates.
func SquareName(sq nchess.Square) string {
	if sq == nchess.NoSquare {
		return "-"
	}
	return fmt.Sprintf("%c%d", files[int(sq.File())], int(sq.Rank())+1)
}

func parsePromotion(s string) (nchess.PieceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nchess.NoPieceType, nil
	case "q":
		return nchess.Queen, nil
	case "r":
		return nchess.Rook, nil
	case "b":
		return nchess.Bishop, nil
	case "n":
		return nchess.Knight, nil
	default:
		return nchess.NoPieceType, fmt.Errorf("%w: bad promotion %q", ErrIllegalMove, s)
	}
}

func promotionLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	default:
		return ""
	}
}

// NewMove builds a move from square names and an optional promotion letter.
func NewMove(from, to, promotion string) (Move, error) {
	s1, err := ParseSquare(from)
	if err != nil {
		return Move{}, err
	}
	s2, err := ParseSquare(to)
	if err != nil {
		return Move{}, err
	}
	promo, err := parsePromotion(promotion)
	if err != nil {
		return Move{}, err
	}
	return Move{From: s1, To: s2, Promotion: promo}, nil
}

// ParseMove reads a square-pair string such as "e2e4" or "e7e8q".
func ParseMove(uci string) (Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) != 4 && len(uci) != 5 {
		return Move{}, fmt.Errorf("%w: bad move %q", ErrIllegalMove, uci)
	}
	return NewMove(uci[0:2], uci[2:4], uci[4:])
}

// UCI renders the move as a square-pair string.
func (m Move) UCI() string {
	return SquareName(m.From) + SquareName(m.To) + promotionLetter(m.Promotion)
}

func (m Move) String() string { return m.UCI() }

func fromLib(mv *nchess.Move) Move {
	return Move{From: mv.S1(), To: mv.S2(), Promotion: mv.Promo()}
}
