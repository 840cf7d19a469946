package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time      { return f.t }
func (f *fakeNow) add(d time.Duration) { f.t = f.t.Add(d) }

func newFakeNow() *fakeNow { return &fakeNow{t: time.Unix(1_700_000_000, 0)} }

func TestTimeControlTable(t *testing.T) {
	want := map[TimeControl]int64{
		Bullet1: 60000, Bullet2: 120000, Blitz3: 180000,
		Blitz5: 300000, Rapid10: 600000, Rapid15: 900000,
	}
	for tc, ms := range want {
		if tc.BaseMillis() != ms {
			t.Fatalf("%s base = %d, want %d", tc, tc.BaseMillis(), ms)
		}
	}
	if _, ok := ParseTimeControl(" BLITZ_5 "); !ok {
		t.Fatalf("expected blitz_5 to parse")
	}
	if _, ok := ParseTimeControl("classical_90"); ok {
		t.Fatalf("unexpected parse of unknown control")
	}
	if Bullet2.Category() != "bullet" || Rapid15.Category() != "rapid" {
		t.Fatalf("bad categories")
	}
}

func TestMoverFrozenOpponentTicks(t *testing.T) {
	fn := newFakeNow()
	c := New(Blitz3.BaseMillis(), Blitz3.BaseMillis(), WithNow(fn.now))
	c.Start(nchess.White)

	// white moves immediately
	s := c.Switch(nchess.Black)
	if s.White != 180000 {
		t.Fatalf("mover should stay at 180000, got %d", s.White)
	}
	fn.add(2500 * time.Millisecond)
	s = c.Switch(nchess.White)
	if s.White != 180000 || s.Black != 177500 {
		t.Fatalf("white=%d black=%d", s.White, s.Black)
	}
	fn.add(time.Second)
	s = c.Pause()
	if s.White != 179000 || s.Black != 177500 || s.Running {
		t.Fatalf("after pause white=%d black=%d running=%v", s.White, s.Black, s.Running)
	}
}

func TestFlagFiresOnce(t *testing.T) {
	var fired atomic.Int32
	var loser atomic.Value
	c := New(300, 1000, OnFlag(func(l nchess.Color) {
		fired.Add(1)
		loser.Store(l)
	}))
	c.Start(nchess.White)
	if s := c.Advance(200 * time.Millisecond); s.Flagged || s.White != 100 {
		t.Fatalf("early flag: %+v", s)
	}
	s := c.Advance(150 * time.Millisecond)
	if !s.Flagged || s.White != 0 || s.Loser != nchess.White || s.Running {
		t.Fatalf("expected white flag: %+v", s)
	}
	c.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("onFlag fired %d times", fired.Load())
	}
	if loser.Load().(nchess.Color) != nchess.White {
		t.Fatalf("loser = %v", loser.Load())
	}
	if c.Snapshot().Black != 1000 {
		t.Fatalf("frozen side changed")
	}
}

func TestChargeKeepsTurn(t *testing.T) {
	fn := newFakeNow()
	c := New(1000, 1000, WithNow(fn.now))
	c.Start(nchess.Black)
	fn.add(400 * time.Millisecond)
	if s := c.Charge(); s.Black != 600 || s.Turn != nchess.Black || !s.Running {
		t.Fatalf("after charge: %+v", s)
	}
	fn.add(700 * time.Millisecond)
	if s := c.Charge(); !s.Flagged || s.Loser != nchess.Black || s.Black != 0 || s.White != 1000 {
		t.Fatalf("expected black flag: %+v", s)
	}
}

func TestSyncOverwritesPrediction(t *testing.T) {
	c := New(60000, 60000)
	c.Start(nchess.White)
	c.Advance(10 * time.Second)
	c.Sync(55000, 42000, nchess.Black, true)
	s := c.Snapshot()
	if s.White != 55000 || s.Black != 42000 || s.Turn != nchess.Black || !s.Running {
		t.Fatalf("sync not applied: %+v", s)
	}
	s = c.Advance(2 * time.Second)
	if s.Black != 40000 || s.White != 55000 {
		t.Fatalf("after sync tick: %+v", s)
	}
	c.Sync(-5, 100, nchess.White, false)
	if s := c.Snapshot(); s.White != 0 || s.Running {
		t.Fatalf("negative sync not clamped: %+v", s)
	}
}

func TestRunFlagsInRealTime(t *testing.T) {
	done := make(chan nchess.Color, 1)
	c := New(40, 5000, WithTick(5*time.Millisecond), OnFlag(func(l nchess.Color) { done <- l }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(nchess.White)
	go c.Run(ctx)
	select {
	case l := <-done:
		if l != nchess.White {
			t.Fatalf("loser = %v", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("clock never flagged")
	}
}
