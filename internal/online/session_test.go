package online

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/internal/store/redisstore"
)

const waitLimit = 3 * time.Second

func newMemStore(t *testing.T) store.Store {
	t.Helper()
	s := memstore.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(t *testing.T, st store.Store, userID string, opts ...Option) *Session {
	t.Helper()
	s := New(st, identity.User{ID: userID, Name: userID}, opts...)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitLimit)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitPhase(t *testing.T, s *Session, want Phase) Snapshot {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to reach %s", s.UserID(), want), func() bool { return s.Snapshot().Phase == want })
	return s.Snapshot()
}

func waitPly(t *testing.T, s *Session, ply int) Snapshot {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to see ply %d", s.UserID(), ply), func() bool {
		g := s.Snapshot().Game
		return g != nil && g.Ply() == ply
	})
	return s.Snapshot()
}

func fixedCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return "", errors.New("no codes left")
		}
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
}

type recordingArchiver struct {
	mu    sync.Mutex
	games []*store.Game
}

func (a *recordingArchiver) SaveResult(ctx context.Context, g *store.Game) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.games = append(a.games, g.Clone())
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.games)
}

// countingStore counts record writes made through it.
type countingStore struct {
	store.Store
	updates atomic.Int32
	mutates atomic.Int32
	failing atomic.Bool
}

func (c *countingStore) UpdateGame(ctx context.Context, g *store.Game) error {
	c.updates.Add(1)
	if c.failing.Load() {
		return store.Wrap("update_game", errors.New("connection reset"))
	}
	return c.Store.UpdateGame(ctx, g)
}

func (c *countingStore) Mutate(ctx context.Context, id string, fn func(*store.Game) error) (*store.Game, error) {
	c.mutates.Add(1)
	if c.failing.Load() {
		return nil, store.Wrap("mutate", errors.New("connection reset"))
	}
	return c.Store.Mutate(ctx, id, fn)
}

// finishingStore ends the game by resignation just before the first move
// write. Once quiet, game events are dropped so only the write's answer
// reports the finish.
type finishingStore struct {
	store.Store
	once  sync.Once
	quiet atomic.Bool
}

func (f *finishingStore) UpdateGame(ctx context.Context, g *store.Game) error {
	f.once.Do(func() {
		_, _ = f.Store.Mutate(ctx, g.ID, func(cur *store.Game) error {
			cur.Finish(store.ResultBlackWins, store.TermResignation)
			return nil
		})
	})
	return f.Store.UpdateGame(ctx, g)
}

func (f *finishingStore) SubscribeGame(ctx context.Context, id string) (store.Subscription, error) {
	sub, err := f.Store.SubscribeGame(ctx, id)
	if err != nil {
		return nil, err
	}
	q := &quietSub{Subscription: sub, out: make(chan store.Event, 16)}
	go func() {
		defer close(q.out)
		for ev := range sub.Events() {
			if !f.quiet.Load() {
				q.out <- ev
			}
		}
	}()
	return q, nil
}

type quietSub struct {
	store.Subscription
	out chan store.Event
}

func (q *quietSub) Events() <-chan store.Event { return q.out }

// staleRoomStore answers room lookups as if nobody had joined yet.
type staleRoomStore struct {
	store.Store
}

func (s staleRoomStore) FindRoom(ctx context.Context, code string) (*store.Game, error) {
	g, err := s.Store.FindRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	g.Status = store.StatusWaiting
	g.BlackPlayerID = ""
	return g, nil
}

// startRoom seats alice as white and bob as black in an active private game.
func startRoom(t *testing.T, alice, bob *Session, tc clock.TimeControl) string {
	t.Helper()
	ctx := context.Background()
	code, err := alice.CreatePrivateRoom(ctx, tc)
	if err != nil {
		t.Fatalf("CreatePrivateRoom: %v", err)
	}
	if err := bob.JoinPrivateRoom(ctx, code); err != nil {
		t.Fatalf("JoinPrivateRoom: %v", err)
	}
	waitPhase(t, alice, PhaseActive)
	return code
}

func move(t *testing.T, s *Session, uci string) {
	t.Helper()
	m, err := rules.ParseMove(uci)
	if err != nil {
		t.Fatalf("ParseMove %s: %v", uci, err)
	}
	from, to := rules.SquareName(m.From), rules.SquareName(m.To)
	if err := s.MakeMove(context.Background(), from, to, ""); err != nil {
		t.Fatalf("%s MakeMove %s: %v", s.UserID(), uci, err)
	}
}

func TestQueueSequentialMatch(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	alice := newSession(t, st, "alice")
	bob := newSession(t, st, "bob", WithCoin(func() bool { return true }))

	if err := alice.JoinQueue(ctx, clock.Blitz5); err != nil {
		t.Fatalf("alice JoinQueue: %v", err)
	}
	if got := alice.Snapshot().Phase; got != PhaseSearching {
		t.Fatalf("alice phase = %s, want searching", got)
	}
	if err := bob.JoinQueue(ctx, clock.Blitz5); err != nil {
		t.Fatalf("bob JoinQueue: %v", err)
	}

	b := waitPhase(t, bob, PhaseActive)
	a := waitPhase(t, alice, PhaseActive)
	if a.Game.ID != b.Game.ID {
		t.Fatalf("sessions adopted different games: %s vs %s", a.Game.ID, b.Game.ID)
	}
	if b.Color != nchess.White || a.Color != nchess.Black {
		t.Fatalf("colors: bob=%v alice=%v", b.Color, a.Color)
	}
	if a.Game.WhiteTimeRemaining != 300000 || a.Game.TimeControl != clock.Blitz5 {
		t.Fatalf("unexpected clock fields: %+v", a.Game)
	}
	if _, err := st.FindOpponent(ctx, clock.Blitz5, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("queue should be empty, got %v", err)
	}
}

func TestQueueConcurrentJoinConverges(t *testing.T) {
	for i := 0; i < 20; i++ {
		st := newMemStore(t)
		alice := newSession(t, st, fmt.Sprintf("alice-%d", i))
		bob := newSession(t, st, fmt.Sprintf("bob-%d", i))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, s := range []*Session{alice, bob} {
			wg.Add(1)
			go func(j int, s *Session) {
				defer wg.Done()
				errs[j] = s.JoinQueue(context.Background(), clock.Bullet1)
			}(j, s)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				t.Fatalf("round %d JoinQueue: %v", i, err)
			}
		}
		a := waitPhase(t, alice, PhaseActive)
		b := waitPhase(t, bob, PhaseActive)
		if a.Game.ID != b.Game.ID {
			t.Fatalf("round %d: split into %s and %s", i, a.Game.ID, b.Game.ID)
		}
		if a.Color == b.Color {
			t.Fatalf("round %d: both players got %v", i, a.Color)
		}
	}
}

func TestQueueIgnoresOtherTimeControls(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	alice := newSession(t, st, "alice")
	bob := newSession(t, st, "bob")
	if err := alice.JoinQueue(ctx, clock.Blitz3); err != nil {
		t.Fatalf("alice JoinQueue: %v", err)
	}
	if err := bob.JoinQueue(ctx, clock.Rapid10); err != nil {
		t.Fatalf("bob JoinQueue: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if alice.Snapshot().Phase != PhaseSearching || bob.Snapshot().Phase != PhaseSearching {
		t.Fatalf("players with different time controls were paired")
	}
}

func TestPrivateRoomFlow(t *testing.T) {
	st := newMemStore(t)
	alice := newSession(t, st, "alice", WithRoomCodes(fixedCodes("ABC123")))
	bob := newSession(t, st, "bob")
	ctx := context.Background()

	code, err := alice.CreatePrivateRoom(ctx, clock.Rapid15)
	if err != nil {
		t.Fatalf("CreatePrivateRoom: %v", err)
	}
	if code != "ABC123" {
		t.Fatalf("code = %q", code)
	}
	a := alice.Snapshot()
	if a.Phase != PhaseWaiting || a.RoomCode != code || a.Color != nchess.White {
		t.Fatalf("creator snapshot: %+v", a)
	}
	if err := bob.JoinPrivateRoom(ctx, " abc123 "); err != nil {
		t.Fatalf("JoinPrivateRoom: %v", err)
	}
	b := bob.Snapshot()
	if b.Phase != PhaseActive || b.Color != nchess.Black {
		t.Fatalf("joiner snapshot: phase=%s color=%v", b.Phase, b.Color)
	}
	a = waitPhase(t, alice, PhaseActive)
	if a.Game.BlackPlayerID != "bob" || !a.Game.IsPrivate {
		t.Fatalf("creator did not see the join: %+v", a.Game)
	}
	if !a.Clock.Running || a.Clock.Turn != nchess.White {
		t.Fatalf("clock should run for white: %+v", a.Clock)
	}
}

func TestCreatePrivateRoomRetriesTakenCode(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	alice := newSession(t, st, "alice", WithRoomCodes(fixedCodes("AAAAAA")))
	carol := newSession(t, st, "carol", WithRoomCodes(fixedCodes("AAAAAA", "AAAAAA", "BBBBBB")))
	if _, err := alice.CreatePrivateRoom(ctx, clock.Blitz3); err != nil {
		t.Fatalf("alice CreatePrivateRoom: %v", err)
	}
	code, err := carol.CreatePrivateRoom(ctx, clock.Blitz3)
	if err != nil {
		t.Fatalf("carol CreatePrivateRoom: %v", err)
	}
	if code != "BBBBBB" {
		t.Fatalf("code = %q, want BBBBBB", code)
	}
}

func TestJoinPrivateRoomErrors(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	alice := newSession(t, st, "alice", WithRoomCodes(fixedCodes("ZZZ999")))
	bob := newSession(t, st, "bob")
	carol := newSession(t, st, "carol")
	dave := newSession(t, staleRoomStore{st}, "dave")

	if err := bob.JoinPrivateRoom(ctx, "NOPE00"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("unknown code: %v", err)
	}
	if err := bob.JoinPrivateRoom(ctx, "AB"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("short code: %v", err)
	}
	code, err := alice.CreatePrivateRoom(ctx, clock.Blitz5)
	if err != nil {
		t.Fatalf("CreatePrivateRoom: %v", err)
	}
	self := newSession(t, st, "alice")
	if err := self.JoinPrivateRoom(ctx, code); !errors.Is(err, ErrSelfJoin) {
		t.Fatalf("self join: %v", err)
	}
	if err := bob.JoinPrivateRoom(ctx, code); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if err := carol.JoinPrivateRoom(ctx, code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("started room lookup: %v", err)
	}
	if err := dave.JoinPrivateRoom(ctx, code); !errors.Is(err, ErrRoomAlreadyStarted) {
		t.Fatalf("lost join race: %v", err)
	}
	if dave.Snapshot().Phase != PhaseIdle {
		t.Fatalf("failed join must leave the session idle")
	}
}

func TestMoveRoundTripAndCheckmate(t *testing.T) {
	st := newMemStore(t)
	arch := &recordingArchiver{}
	alice := newSession(t, st, "alice", WithArchiver(arch))
	bob := newSession(t, st, "bob", WithArchiver(arch))
	startRoom(t, alice, bob, clock.Blitz3)

	move(t, alice, "f2f3")
	before := alice.Snapshot().Version
	b := waitPly(t, bob, 1)
	a := alice.Snapshot()
	if a.FEN != b.FEN || a.Turn != b.Turn || a.IsCheck != b.IsCheck {
		t.Fatalf("views diverged:\n alice %s %v\n bob   %s %v", a.FEN, a.Turn, b.FEN, b.Turn)
	}
	if b.Turn != nchess.Black || b.MovesSAN[0] != "f3" {
		t.Fatalf("bob view: turn=%v san=%v", b.Turn, b.MovesSAN)
	}
	if err := alice.MakeMove(context.Background(), "e2", "e4", ""); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("out of turn: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := alice.Snapshot().Version; got != before {
		t.Fatalf("own echo changed state: version %d -> %d", before, got)
	}

	move(t, bob, "e7e5")
	waitPly(t, alice, 2)
	move(t, alice, "g2g4")
	waitPly(t, bob, 3)
	move(t, bob, "d8h4")

	a = waitPhase(t, alice, PhaseCompleted)
	b = bob.Snapshot()
	for _, s := range []Snapshot{a, b} {
		if !s.IsCheckmate || !s.IsGameOver {
			t.Fatalf("%s: checkmate flags not derived", s.UserID)
		}
		if s.Game.Result != store.ResultBlackWins || s.Game.Termination != store.TermCheckmate || s.Game.WinnerID != "bob" {
			t.Fatalf("%s: result %+v", s.UserID, s.Game)
		}
	}
	if b.Clock.Running {
		t.Fatalf("clock kept running after mate")
	}
	if arch.count() != 1 {
		t.Fatalf("archived %d records, want 1", arch.count())
	}
	if err := alice.MakeMove(context.Background(), "a2", "a3", ""); !errors.Is(err, ErrNotActive) {
		t.Fatalf("move after mate: %v", err)
	}
}

func TestIllegalMoveLeavesStateUntouched(t *testing.T) {
	st := newMemStore(t)
	alice := newSession(t, st, "alice")
	bob := newSession(t, st, "bob")
	startRoom(t, alice, bob, clock.Blitz3)

	before := alice.Snapshot()
	if err := alice.MakeMove(context.Background(), "e2", "e5", ""); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("illegal move: %v", err)
	}
	if after := alice.Snapshot(); after.Version != before.Version || after.FEN != before.FEN {
		t.Fatalf("illegal move changed the session")
	}
}

func TestMoveRollsBackOnWriteFailure(t *testing.T) {
	base := newMemStore(t)
	cs := &countingStore{Store: base}
	alice := newSession(t, cs, "alice")
	bob := newSession(t, base, "bob")
	startRoom(t, alice, bob, clock.Blitz5)

	cs.failing.Store(true)
	err := alice.MakeMove(context.Background(), "e2", "e4", "")
	if !store.IsStoreError(err) {
		t.Fatalf("expected a store error, got %v", err)
	}
	a := alice.Snapshot()
	if a.Game.Ply() != 0 || a.FEN != rules.StartFEN || a.Turn != nchess.White {
		t.Fatalf("rollback incomplete: ply=%d fen=%s", a.Game.Ply(), a.FEN)
	}
	if a.Clock.Turn != nchess.White || !a.Clock.Running {
		t.Fatalf("clock not restored: %+v", a.Clock)
	}
	if a.Phase != PhaseActive {
		t.Fatalf("phase = %s", a.Phase)
	}

	cs.failing.Store(false)
	move(t, alice, "e2e4")
	waitPly(t, bob, 1)
	if cs.updates.Load() != 2 {
		t.Fatalf("updates = %d, want 2", cs.updates.Load())
	}
}

func TestResign(t *testing.T) {
	st := newMemStore(t)
	arch := &recordingArchiver{}
	alice := newSession(t, st, "alice", WithArchiver(arch))
	bob := newSession(t, st, "bob")
	startRoom(t, alice, bob, clock.Blitz3)
	move(t, alice, "e2e4")
	waitPly(t, bob, 1)

	if err := alice.Resign(context.Background()); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	b := waitPhase(t, bob, PhaseCompleted)
	if b.Game.Result != store.ResultBlackWins || b.Game.WinnerID != "bob" || b.Game.Termination != store.TermResignation {
		t.Fatalf("result: %+v", b.Game)
	}
	if b.Game.Ply() != 1 || b.IsCheckmate {
		t.Fatalf("resignation must not touch the board")
	}
	if b.Clock.Running {
		t.Fatalf("clock still running after resignation")
	}
	if err := bob.Resign(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second resign: %v", err)
	}
	if arch.count() != 1 {
		t.Fatalf("archived %d", arch.count())
	}
}

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTimeoutCommittedByWinnerOnly(t *testing.T) {
	base := newMemStore(t)
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	clockOpts := WithClockOptions(clock.WithNow(ft.Now), clock.WithTick(5*time.Millisecond))
	aliceStore := &countingStore{Store: base}
	arch := &recordingArchiver{}
	alice := newSession(t, aliceStore, "alice", clockOpts)
	bob := newSession(t, base, "bob", clockOpts, WithArchiver(arch))
	startRoom(t, alice, bob, clock.Bullet1)

	ft.Add(61 * time.Second)

	b := waitPhase(t, bob, PhaseCompleted)
	a := waitPhase(t, alice, PhaseCompleted)
	for _, s := range []Snapshot{a, b} {
		if s.Game.Termination != store.TermTimeout || s.Game.Result != store.ResultBlackWins {
			t.Fatalf("%s: %+v", s.UserID, s.Game)
		}
		if s.Game.WhiteTimeRemaining != 0 {
			t.Fatalf("%s: white clock %d", s.UserID, s.Game.WhiteTimeRemaining)
		}
	}
	stored, err := base.GetGame(context.Background(), b.Game.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if stored.Termination != store.TermTimeout || stored.WinnerID != "bob" {
		t.Fatalf("stored: %+v", stored)
	}
	if n := aliceStore.mutates.Load() + aliceStore.updates.Load(); n != 0 {
		t.Fatalf("flagged side wrote %d times", n)
	}
	if arch.count() != 1 {
		t.Fatalf("archived %d", arch.count())
	}
}

func TestTimeoutRetryAfterFailedWrite(t *testing.T) {
	base := newMemStore(t)
	ft := &fakeTime{now: time.Unix(1_700_000_000, 0)}
	clockOpts := WithClockOptions(clock.WithNow(ft.Now), clock.WithTick(5*time.Millisecond))
	bobStore := &countingStore{Store: base}
	alice := newSession(t, base, "alice", clockOpts)
	bob := newSession(t, bobStore, "bob", clockOpts)
	startRoom(t, alice, bob, clock.Bullet1)

	if err := bob.ClaimTimeout(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("claim before any flag: %v", err)
	}
	bobStore.failing.Store(true)
	ft.Add(61 * time.Second)

	waitFor(t, "bob to report the pending timeout", func() bool { return bob.Snapshot().TimeoutPending })
	b := bob.Snapshot()
	if b.Phase != PhaseActive || !b.Clock.Flagged || b.Clock.Loser != nchess.White {
		t.Fatalf("pending snapshot: phase=%s clock=%+v", b.Phase, b.Clock)
	}
	if err := bob.ClaimTimeout(context.Background()); !store.IsStoreError(err) {
		t.Fatalf("claim while the store is down: %v", err)
	}

	bobStore.failing.Store(false)
	if err := bob.ClaimTimeout(context.Background()); err != nil {
		t.Fatalf("ClaimTimeout: %v", err)
	}
	b = bob.Snapshot()
	if b.Phase != PhaseCompleted || b.TimeoutPending || b.Game.WinnerID != "bob" || b.Game.Termination != store.TermTimeout {
		t.Fatalf("after claim: pending=%v %+v", b.TimeoutPending, b.Game)
	}
	stored, err := base.GetGame(context.Background(), b.Game.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if stored.Termination != store.TermTimeout || stored.WhiteTimeRemaining != 0 {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestMoveOnFinishedGameResyncs(t *testing.T) {
	base := newMemStore(t)
	fs := &finishingStore{Store: base}
	alice := newSession(t, fs, "alice")
	bob := newSession(t, base, "bob")
	startRoom(t, alice, bob, clock.Blitz5)

	fs.quiet.Store(true)
	err := alice.MakeMove(context.Background(), "e2", "e4", "")
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}
	a := alice.Snapshot()
	if a.Phase != PhaseCompleted || a.Game.Termination != store.TermResignation || a.Game.Ply() != 0 {
		t.Fatalf("alice did not adopt the stored record: phase=%s %+v", a.Phase, a.Game)
	}
	if a.Clock.Running {
		t.Fatalf("clock still running after resync")
	}
}

func TestLeaveQueueAndRoom(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	alice := newSession(t, st, "alice", WithRoomCodes(fixedCodes("LEAVE1")))
	bob := newSession(t, st, "bob")

	if err := alice.JoinQueue(ctx, clock.Blitz3); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if err := alice.LeaveQueue(ctx); err != nil {
		t.Fatalf("LeaveQueue: %v", err)
	}
	if alice.Snapshot().Phase != PhaseIdle {
		t.Fatalf("phase after LeaveQueue = %s", alice.Snapshot().Phase)
	}
	if _, err := st.FindOpponent(ctx, clock.Blitz3, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("entry survived LeaveQueue: %v", err)
	}

	code, err := alice.CreatePrivateRoom(ctx, clock.Blitz3)
	if err != nil {
		t.Fatalf("CreatePrivateRoom: %v", err)
	}
	id := alice.Snapshot().Game.ID
	if err := alice.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	g, err := st.GetGame(ctx, id)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.Status != store.StatusAbandoned {
		t.Fatalf("room status = %s", g.Status)
	}
	if err := bob.JoinPrivateRoom(ctx, code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join abandoned room: %v", err)
	}
}

func TestPreconditions(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	anon := newSession(t, st, "")
	if err := anon.JoinQueue(ctx, clock.Blitz3); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous queue: %v", err)
	}
	if _, err := anon.CreatePrivateRoom(ctx, clock.Blitz3); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous room: %v", err)
	}

	alice := newSession(t, st, "alice")
	if err := alice.JoinQueue(ctx, clock.TimeControl("classical_90")); !errors.Is(err, ErrInvalidTimeControl) {
		t.Fatalf("bad time control: %v", err)
	}
	if err := alice.JoinQueue(ctx, clock.Blitz3); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if _, err := alice.CreatePrivateRoom(ctx, clock.Blitz3); !errors.Is(err, ErrBusy) {
		t.Fatalf("room while searching: %v", err)
	}
	if err := alice.MakeMove(ctx, "e2", "e4", ""); !errors.Is(err, ErrNotActive) {
		t.Fatalf("move while searching: %v", err)
	}
	if err := alice.Resign(ctx); !errors.Is(err, ErrNotActive) {
		t.Fatalf("resign while searching: %v", err)
	}
}

func TestOnChangeReportsVersions(t *testing.T) {
	st := newMemStore(t)
	var mu sync.Mutex
	var versions []uint64
	alice := newSession(t, st, "alice", OnChange(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	}))
	if _, err := alice.CreatePrivateRoom(context.Background(), clock.Blitz3); err != nil {
		t.Fatalf("CreatePrivateRoom: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(versions) == 0 {
		t.Fatalf("no change notifications")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions not increasing: %v", versions)
		}
	}
}

func TestRoomCodes(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := roomCode()
		if err != nil {
			t.Fatalf("roomCode: %v", err)
		}
		if !ValidRoomCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
	}
	if ValidRoomCode("abc123") || ValidRoomCode("ABC12") || ValidRoomCode("ABC-12") {
		t.Fatalf("accepted malformed code")
	}
	if NormalizeRoomCode(" abc123\n") != "ABC123" {
		t.Fatalf("NormalizeRoomCode")
	}
}

func TestRedisBackedMatchAndMove(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	st, err := redisstore.Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	alice := newSession(t, st, "alice")
	bob := newSession(t, st, "bob", WithCoin(func() bool { return false }))
	if err := alice.JoinQueue(ctx, clock.Blitz3); err != nil {
		t.Fatalf("alice JoinQueue: %v", err)
	}
	if err := bob.JoinQueue(ctx, clock.Blitz3); err != nil {
		t.Fatalf("bob JoinQueue: %v", err)
	}
	a := waitPhase(t, alice, PhaseActive)
	if a.Color != nchess.White {
		t.Fatalf("alice color = %v", a.Color)
	}
	move(t, alice, "d2d4")
	b := waitPly(t, bob, 1)
	if b.FEN != alice.Snapshot().FEN {
		t.Fatalf("fen mismatch over redis")
	}
}
