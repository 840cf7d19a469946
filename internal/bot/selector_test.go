package bot

import (
	"testing"

	"github.com/park285/cheese-arena/internal/rules"
)

// White mates with Rd8; Bxb2, Bxe3 and fxe3 are the competing captures.
const mateAmongCaptures = "6k1/5ppp/8/8/8/4n3/1q3PPP/2BR2K1 w - - 0 1"

func mustFEN(t *testing.T, fen string) *rules.Position {
	t.Helper()
	p, err := rules.FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN(%q): %v", fen, err)
	}
	return p
}

func isLegal(p *rules.Position, m rules.Move) bool {
	for _, lm := range p.LegalMoves() {
		if lm == m {
			return true
		}
	}
	return false
}

func TestSelectAlwaysLegal(t *testing.T) {
	s := NewSelector()
	s.SetRandomSeed(7)
	positions := []*rules.Position{rules.Start(), mustFEN(t, mateAmongCaptures)}
	for _, d := range []Difficulty{Beginner, Easy, Medium, Hard} {
		for _, p := range positions {
			for i := 0; i < 25; i++ {
				m, ok := s.Select(p, d)
				if !ok {
					t.Fatalf("%s: no move from non-terminal position", d)
				}
				if !isLegal(p, m) {
					t.Fatalf("%s: selected illegal move %s", d, m)
				}
			}
		}
	}
}

func TestSelectNoneWhenTerminal(t *testing.T) {
	p, err := rules.Replay("", []string{"f2f3", "e7e5", "g2g4", "d8h4"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	s := NewSelector()
	for _, d := range []Difficulty{Beginner, Easy, Medium, Hard} {
		if m, ok := s.Select(p, d); ok {
			t.Fatalf("%s: expected no move in mate, got %s", d, m)
		}
	}
	stale := mustFEN(t, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if _, ok := s.Select(stale, Hard); ok {
		t.Fatalf("expected no move in stalemate")
	}
}

func TestHardPrefersMateOverCaptures(t *testing.T) {
	p := mustFEN(t, mateAmongCaptures)
	s := NewSelector()
	for seed := int64(1); seed <= 20; seed++ {
		s.SetRandomSeed(seed)
		m, ok := s.Select(p, Hard)
		if !ok {
			t.Fatalf("no move")
		}
		if m.UCI() != "d1d8" {
			t.Fatalf("seed %d: hard chose %s, want d1d8", seed, m)
		}
	}
}

func TestMediumTakesMostValuablePiece(t *testing.T) {
	p := mustFEN(t, mateAmongCaptures)
	s := NewSelector()
	for seed := int64(1); seed <= 20; seed++ {
		s.SetRandomSeed(seed)
		m, _ := s.Select(p, Medium)
		if m.UCI() != "c1b2" {
			t.Fatalf("seed %d: medium chose %s, want c1b2", seed, m)
		}
	}
}

func TestSeededSelectionIsDeterministic(t *testing.T) {
	p := rules.Start()
	a, b := NewSelector(), NewSelector()
	a.SetRandomSeed(42)
	b.SetRandomSeed(42)
	for i := 0; i < 10; i++ {
		ma, _ := a.Select(p, Beginner)
		mb, _ := b.Select(p, Beginner)
		if ma != mb {
			t.Fatalf("round %d: %s != %s", i, ma, mb)
		}
	}
}

func TestParseDifficulty(t *testing.T) {
	cases := map[string]Difficulty{"HARD": Hard, " easy ": Easy, "beginner": Beginner, "": Medium, "grandmaster": Medium}
	for in, want := range cases {
		if got := ParseDifficulty(in); got != want {
			t.Fatalf("ParseDifficulty(%q) = %s, want %s", in, got, want)
		}
	}
}
