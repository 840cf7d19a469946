package clock

import (
	"context"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// Tick is the countdown granularity.
const Tick = 100 * time.Millisecond

// Snapshot is a point-in-time view of both counters in milliseconds.
type Snapshot struct {
	White   int64
	Black   int64
	Turn    nchess.Color
	Running bool
	Flagged bool
	Loser   nchess.Color
}

// Remaining returns the counter for a side.
func (s Snapshot) Remaining(c nchess.Color) int64 {
	if c == nchess.White {
		return s.White
	}
	return s.Black
}

// Clock counts down the side to move. The other side's counter is frozen.
// Values are a local prediction and are overwritten by Sync.
type Clock struct {
	mu      sync.Mutex
	white   int64
	black   int64
	turn    nchess.Color
	running bool
	last    time.Time
	flagged bool
	loser   nchess.Color

	now    func() time.Time
	tick   time.Duration
	onFlag func(loser nchess.Color)
}

type Option func(*Clock)

func WithNow(fn func() time.Time) Option { return func(c *Clock) { c.now = fn } }

func WithTick(d time.Duration) Option { return func(c *Clock) { c.tick = d } }

// OnFlag runs once per expiry, outside the clock lock.
func OnFlag(fn func(loser nchess.Color)) Option { return func(c *Clock) { c.onFlag = fn } }

func New(whiteMs, blackMs int64, opts ...Option) *Clock {
	c := &Clock{
		white: whiteMs,
		black: blackMs,
		turn:  nchess.White,
		now:   time.Now,
		tick:  Tick,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins counting down turn from now.
func (c *Clock) Start(turn nchess.Color) {
	c.mu.Lock()
	c.turn = turn
	c.running = !c.flagged
	c.last = c.now()
	c.mu.Unlock()
}

// Pause charges elapsed time and stops counting.
func (c *Clock) Pause() Snapshot {
	c.mu.Lock()
	fire := c.chargeLocked(c.now())
	c.running = false
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.fire(fire, s)
	return s
}

// Switch charges the mover for elapsed time, freezes its counter and starts turn.
func (c *Clock) Switch(turn nchess.Color) Snapshot {
	c.mu.Lock()
	fire := c.chargeLocked(c.now())
	if !c.flagged {
		c.turn = turn
	}
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.fire(fire, s)
	return s
}

// Sync overwrites both counters from an authoritative snapshot.
func (c *Clock) Sync(whiteMs, blackMs int64, turn nchess.Color, running bool) {
	c.mu.Lock()
	c.white = max(whiteMs, 0)
	c.black = max(blackMs, 0)
	c.turn = turn
	c.flagged = false
	c.loser = nchess.NoColor
	c.running = running
	c.last = c.now()
	c.mu.Unlock()
}

// Charge bills elapsed time to the side to move without switching.
func (c *Clock) Charge() Snapshot {
	c.mu.Lock()
	fire := c.chargeLocked(c.now())
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.fire(fire, s)
	return s
}

// Advance charges elapsed time to the side to move.
func (c *Clock) Advance(elapsed time.Duration) Snapshot {
	c.mu.Lock()
	fire := c.chargeLocked(c.last.Add(elapsed))
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.fire(fire, s)
	return s
}

func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Run ticks until ctx is done.
func (c *Clock) Run(ctx context.Context) {
	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Charge()
		}
	}
}

// chargeLocked reports whether this charge flagged the side to move.
func (c *Clock) chargeLocked(at time.Time) bool {
	if !c.running || c.flagged {
		c.last = at
		return false
	}
	elapsed := at.Sub(c.last).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	// keep the sub-millisecond remainder for the next charge
	c.last = c.last.Add(time.Duration(elapsed) * time.Millisecond)
	ptr := &c.white
	if c.turn == nchess.Black {
		ptr = &c.black
	}
	*ptr -= elapsed
	if *ptr > 0 {
		return false
	}
	*ptr = 0
	c.flagged = true
	c.loser = c.turn
	c.running = false
	return true
}

func (c *Clock) snapshotLocked() Snapshot {
	return Snapshot{
		White:   c.white,
		Black:   c.black,
		Turn:    c.turn,
		Running: c.running,
		Flagged: c.flagged,
		Loser:   c.loser,
	}
}

func (c *Clock) fire(flagged bool, s Snapshot) {
	if flagged && c.onFlag != nil {
		c.onFlag(s.Loser)
	}
}
