package bot

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/rules"
)

// Difficulty selects the scoring strategy.
type Difficulty string

const (
	Beginner Difficulty = "beginner"
	Easy     Difficulty = "easy"
	Medium   Difficulty = "medium"
	Hard     Difficulty = "hard"
)

// ParseDifficulty falls back to Medium for unknown input.
func ParseDifficulty(s string) Difficulty {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case Beginner, Easy, Medium, Hard:
		return d
	default:
		return Medium
	}
}

const (
	easyCaptureBias = 0.7

	mediumQuietJitter = 0.5

	hardJitter       = 0.3
	hardCaptureScale = 2.0
	hardCheckBonus   = 1.5
	hardMateBonus    = 100.0
	hardCenterBonus  = 0.5
	hardDevelopBonus = 0.3
	hardDevelopUntil = 10
)

// strategy picks one of the legal moves; legal is never empty.
type strategy func(p *rules.Position, legal []rules.Move, r *rand.Rand) rules.Move

var strategies = map[Difficulty]strategy{
	Beginner: pickUniform,
	Easy:     pickCaptureBiased,
	Medium:   pickByScore(scoreMedium),
	Hard:     pickByScore(scoreHard),
}

// Selector chooses bot moves. It is safe for concurrent use.
type Selector struct {
	randMu sync.Mutex
	rand   *rand.Rand
}

func NewSelector() *Selector {
	return &Selector{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *Selector) SetRandomSeed(seed int64) {
	s.randMu.Lock()
	s.rand = rand.New(rand.NewSource(seed))
	s.randMu.Unlock()
}

func (s *Selector) random() *rand.Rand {
	s.randMu.Lock()
	seed := s.rand.Int63()
	s.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

// Select returns a legal move for the side to move, or false when none exists.
func (s *Selector) Select(p *rules.Position, d Difficulty) (rules.Move, bool) {
	if p == nil {
		return rules.Move{}, false
	}
	legal := p.LegalMoves()
	if len(legal) == 0 {
		return rules.Move{}, false
	}
	pick, ok := strategies[d]
	if !ok {
		pick = strategies[Medium]
	}
	return pick(p, legal, s.random()), true
}

func pickUniform(_ *rules.Position, legal []rules.Move, r *rand.Rand) rules.Move {
	return legal[r.Intn(len(legal))]
}

func pickCaptureBiased(p *rules.Position, legal []rules.Move, r *rand.Rand) rules.Move {
	var captures []rules.Move
	for _, m := range legal {
		if _, captured := p.Describe(m); captured != nchess.NoPieceType {
			captures = append(captures, m)
		}
	}
	if len(captures) > 0 && r.Float64() < easyCaptureBias {
		return captures[r.Intn(len(captures))]
	}
	return legal[r.Intn(len(legal))]
}

type scorer func(p *rules.Position, m rules.Move, r *rand.Rand) float64

// pickByScore keeps the first maximum so ties follow generation order.
func pickByScore(score scorer) strategy {
	return func(p *rules.Position, legal []rules.Move, r *rand.Rand) rules.Move {
		best := legal[0]
		bestScore := score(p, best, r)
		for _, m := range legal[1:] {
			if v := score(p, m, r); v > bestScore {
				best, bestScore = m, v
			}
		}
		return best
	}
}

func scoreMedium(p *rules.Position, m rules.Move, r *rand.Rand) float64 {
	if _, captured := p.Describe(m); captured != nchess.NoPieceType {
		return float64(rules.PieceValue(captured)) + r.Float64()
	}
	return r.Float64() * mediumQuietJitter
}

func scoreHard(p *rules.Position, m rules.Move, r *rand.Rand) float64 {
	score := r.Float64() * hardJitter
	piece, captured := p.Describe(m)
	if captured != nchess.NoPieceType {
		score += hardCaptureScale * float64(rules.PieceValue(captured))
	}
	if next, err := p.Apply(m); err == nil {
		if next.IsCheck() {
			score += hardCheckBonus
		}
		if next.IsCheckmate() {
			score += hardMateBonus
		}
	}
	if isCenter(m.To) {
		score += hardCenterBonus
	}
	if (piece == nchess.Knight || piece == nchess.Bishop) && p.MoveNumber() < hardDevelopUntil {
		score += hardDevelopBonus
	}
	return score
}

func isCenter(sq nchess.Square) bool {
	f, r := sq.File(), sq.Rank()
	return (f == nchess.FileD || f == nchess.FileE) && (r == nchess.Rank4 || r == nchess.Rank5)
}
