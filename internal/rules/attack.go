package rules

import nchess "github.com/corentings/chess/v2"

// The rules library does not export an in-check query for a bare position,
// so check detection scans the board for attacks on the king.

var (
	knightJumps = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookRays    = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopRays  = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func pieceAt(b *nchess.Board, f, r int) (nchess.Piece, bool) {
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return nchess.NoPiece, false
	}
	return b.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r))), true
}

func kingSquare(b *nchess.Board, c nchess.Color) (int, int, bool) {
	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			p, _ := pieceAt(b, f, r)
			if p != nchess.NoPiece && p.Type() == nchess.King && p.Color() == c {
				return f, r, true
			}
		}
	}
	return 0, 0, false
}

func inCheck(b *nchess.Board, c nchess.Color) bool {
	if b == nil {
		return false
	}
	f, r, ok := kingSquare(b, c)
	if !ok {
		return false
	}
	return attacked(b, f, r, Opponent(c))
}

func attacked(b *nchess.Board, f, r int, by nchess.Color) bool {
	is := func(p nchess.Piece, types ...nchess.PieceType) bool {
		if p == nchess.NoPiece || p.Color() != by {
			return false
		}
		for _, t := range types {
			if p.Type() == t {
				return true
			}
		}
		return false
	}

	pawnRank := r - 1
	if by == nchess.Black {
		pawnRank = r + 1
	}
	for _, df := range [2]int{-1, 1} {
		if p, ok := pieceAt(b, f+df, pawnRank); ok && is(p, nchess.Pawn) {
			return true
		}
	}
	for _, d := range knightJumps {
		if p, ok := pieceAt(b, f+d[0], r+d[1]); ok && is(p, nchess.Knight) {
			return true
		}
	}
	for _, d := range kingSteps {
		if p, ok := pieceAt(b, f+d[0], r+d[1]); ok && is(p, nchess.King) {
			return true
		}
	}
	slide := func(rays [4][2]int, types ...nchess.PieceType) bool {
		for _, d := range rays {
			for step := 1; step < 8; step++ {
				p, ok := pieceAt(b, f+d[0]*step, r+d[1]*step)
				if !ok {
					break
				}
				if p == nchess.NoPiece {
					continue
				}
				if is(p, types...) {
					return true
				}
				break
			}
		}
		return false
	}
	return slide(rookRays, nchess.Rook, nchess.Queen) || slide(bishopRays, nchess.Bishop, nchess.Queen)
}
