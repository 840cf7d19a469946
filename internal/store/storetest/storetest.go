// Package storetest is the behavior every store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
)

// Factory returns a fresh, empty store; cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

const eventWait = 3 * time.Second

var seq atomic.Int64

func newID(prefix string) string { return fmt.Sprintf("%s-%d", prefix, seq.Add(1)) }

// NewGame builds an active record between white and black.
func NewGame(white, black string, tc clock.TimeControl) *store.Game {
	base := tc.BaseMillis()
	status := store.StatusActive
	if black == "" {
		status = store.StatusWaiting
	}
	return &store.Game{
		ID:                 newID("g"),
		FEN:                rules.StartFEN,
		Moves:              []string{},
		MovesSAN:           []string{},
		CurrentTurn:        "white",
		WhitePlayerID:      white,
		BlackPlayerID:      black,
		WhiteTimeRemaining: base,
		BlackTimeRemaining: base,
		Status:             status,
		TimeControl:        tc,
	}
}

// WaitEvent returns the next event or fails the test after a deadline.
func WaitEvent(t *testing.T, sub store.Subscription) store.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return ev
	case <-time.After(eventWait):
		t.Fatalf("no event within %s", eventWait)
	}
	return store.Event{}
}

func Run(t *testing.T, open Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("RoomCodes", func(t *testing.T) { testRoomCodes(t, open(t)) })
	t.Run("UpdateGame", func(t *testing.T) { testUpdateGame(t, open(t)) })
	t.Run("Mutate", func(t *testing.T) { testMutate(t, open(t)) })
	t.Run("QueueOrder", func(t *testing.T) { testQueueOrder(t, open(t)) })
	t.Run("QueueUpsert", func(t *testing.T) { testQueueUpsert(t, open(t)) })
	t.Run("ClaimMatch", func(t *testing.T) { testClaimMatch(t, open(t)) })
	t.Run("ClaimRequiresClaimerEntry", func(t *testing.T) { testClaimRequiresClaimerEntry(t, open(t)) })
	t.Run("GameFeed", func(t *testing.T) { testGameFeed(t, open(t)) })
	t.Run("PlayerFeed", func(t *testing.T) { testPlayerFeed(t, open(t)) })
	t.Run("QueueFeed", func(t *testing.T) { testQueueFeed(t, open(t)) })
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGame("alice", "bob", clock.Blitz5)
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	got, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.WhitePlayerID != "alice" || got.BlackPlayerID != "bob" || got.WhiteTimeRemaining != 300000 || got.Status != store.StatusActive {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set")
	}
	if _, err := s.GetGame(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testRoomCodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGame("alice", "", clock.Rapid10)
	g.RoomCode = "ABC123"
	g.IsPrivate = true
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	dup := NewGame("carol", "", clock.Rapid10)
	dup.RoomCode = "ABC123"
	if err := s.CreateGame(ctx, dup); !errors.Is(err, store.ErrRoomCodeTaken) {
		t.Fatalf("expected room code taken, got %v", err)
	}
	got, err := s.FindRoom(ctx, "abc123")
	if err != nil {
		t.Fatalf("FindRoom: %v", err)
	}
	if got.ID != g.ID || got.Status != store.StatusWaiting {
		t.Fatalf("wrong room: %+v", got)
	}
	if _, err := s.FindRoom(ctx, "ZZZZZZ"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testUpdateGame(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.UpdateGame(ctx, NewGame("x", "y", clock.Blitz3)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	g := NewGame("alice", "bob", clock.Blitz3)
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	g.Moves = append(g.Moves, "e2e4")
	g.CurrentTurn = "black"
	if err := s.UpdateGame(ctx, g); err != nil {
		t.Fatalf("UpdateGame: %v", err)
	}
	g.Finish(store.ResultWhiteWins, store.TermResignation)
	if err := s.UpdateGame(ctx, g); err != nil {
		t.Fatalf("finishing UpdateGame: %v", err)
	}
	g.Status = store.StatusActive
	if err := s.UpdateGame(ctx, g); !errors.Is(err, store.ErrGameFinished) {
		t.Fatalf("expected finished, got %v", err)
	}
	got, _ := s.GetGame(ctx, g.ID)
	if got.Status != store.StatusCompleted || got.WinnerID != "alice" || got.Ply() != 1 {
		t.Fatalf("terminal record changed: %+v", got)
	}
}

func testMutate(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGame("alice", "", clock.Blitz3)
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	boom := errors.New("boom")
	if _, err := s.Mutate(ctx, g.ID, func(cur *store.Game) error {
		cur.BlackPlayerID = "mallory"
		return boom
	}); !errors.Is(err, boom) || store.IsStoreError(err) {
		t.Fatalf("fn error should pass through, got %v", err)
	}
	got, _ := s.GetGame(ctx, g.ID)
	if got.BlackPlayerID != "" {
		t.Fatalf("aborted mutate wrote")
	}
	out, err := s.Mutate(ctx, g.ID, func(cur *store.Game) error {
		cur.BlackPlayerID = "bob"
		cur.Status = store.StatusActive
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if out.BlackPlayerID != "bob" || out.Status != store.StatusActive {
		t.Fatalf("mutate result: %+v", out)
	}
	if _, err := s.Mutate(ctx, "missing", func(*store.Game) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testQueueOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := time.Now().Add(-time.Minute)
	for i, u := range []string{"second", "first", "third"} {
		at := t0.Add(time.Duration([]int{2, 1, 3}[i]) * time.Second)
		if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: u, TimeControl: clock.Blitz5, Rating: 1200, JoinedAt: at}); err != nil {
			t.Fatalf("UpsertQueueEntry(%s): %v", u, err)
		}
	}
	e, err := s.FindOpponent(ctx, clock.Blitz5, "me")
	if err != nil {
		t.Fatalf("FindOpponent: %v", err)
	}
	if e.UserID != "first" || e.Rating != 1200 {
		t.Fatalf("expected oldest entry, got %+v", e)
	}
	if e, _ = s.FindOpponent(ctx, clock.Blitz5, "first"); e == nil || e.UserID != "second" {
		t.Fatalf("exclude ignored: %+v", e)
	}
	if _, err := s.FindOpponent(ctx, clock.Bullet1, "me"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected empty bullet queue, got %v", err)
	}
	if err := s.DeleteQueueEntry(ctx, "first"); err != nil {
		t.Fatalf("DeleteQueueEntry: %v", err)
	}
	if err := s.DeleteQueueEntry(ctx, "first"); err != nil {
		t.Fatalf("second DeleteQueueEntry: %v", err)
	}
	if e, _ = s.FindOpponent(ctx, clock.Blitz5, "me"); e == nil || e.UserID != "second" {
		t.Fatalf("delete ignored: %+v", e)
	}
}

func testQueueUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "alice", TimeControl: clock.Blitz5, Rating: 1200}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "alice", TimeControl: clock.Rapid15, Rating: 1350}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	if _, err := s.FindOpponent(ctx, clock.Blitz5, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old entry survived upsert: %v", err)
	}
	e, err := s.FindOpponent(ctx, clock.Rapid15, "")
	if err != nil || e.UserID != "alice" || e.Rating != 1350 {
		t.Fatalf("replacement entry missing: %+v %v", e, err)
	}
}

func testClaimMatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "alice", TimeControl: clock.Blitz5, Rating: 1200}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	g := NewGame("alice", "bob", clock.Blitz5)
	if err := s.ClaimMatch(ctx, store.Match{Opponent: "alice", Claimer: "bob", Game: g}); err != nil {
		t.Fatalf("ClaimMatch: %v", err)
	}
	if _, err := s.FindOpponent(ctx, clock.Blitz5, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("opponent entry not consumed: %v", err)
	}
	if _, err := s.GetGame(ctx, g.ID); err != nil {
		t.Fatalf("claimed game missing: %v", err)
	}
	again := NewGame("alice", "carol", clock.Blitz5)
	if err := s.ClaimMatch(ctx, store.Match{Opponent: "alice", Claimer: "carol", Game: again}); !errors.Is(err, store.ErrEntryGone) {
		t.Fatalf("expected entry gone, got %v", err)
	}
	if _, err := s.GetGame(ctx, again.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("losing claim inserted a game")
	}
}

func testClaimRequiresClaimerEntry(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "alice", TimeControl: clock.Bullet2, Rating: 1200}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	g := NewGame("bob", "alice", clock.Bullet2)
	err := s.ClaimMatch(ctx, store.Match{Opponent: "alice", Claimer: "bob", ClaimerQueued: true, Game: g})
	if !errors.Is(err, store.ErrEntryGone) {
		t.Fatalf("expected entry gone without claimer entry, got %v", err)
	}
	if _, err := s.FindOpponent(ctx, clock.Bullet2, "bob"); err != nil {
		t.Fatalf("failed claim consumed the opponent: %v", err)
	}
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "bob", TimeControl: clock.Bullet2, Rating: 1200}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	if err := s.ClaimMatch(ctx, store.Match{Opponent: "alice", Claimer: "bob", ClaimerQueued: true, Game: g}); err != nil {
		t.Fatalf("ClaimMatch: %v", err)
	}
	if _, err := s.FindOpponent(ctx, clock.Bullet2, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("entries left after queued claim: %v", err)
	}
}

func testGameFeed(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGame("alice", "bob", clock.Blitz3)
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	sub, err := s.SubscribeGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("SubscribeGame: %v", err)
	}
	defer sub.Close()
	g.Moves = []string{"e2e4"}
	g.CurrentTurn = "black"
	g.WhiteTimeRemaining = 179500
	if err := s.UpdateGame(ctx, g); err != nil {
		t.Fatalf("UpdateGame: %v", err)
	}
	ev := WaitEvent(t, sub)
	if ev.Kind != store.EventUpdate || ev.Game == nil || ev.Game.Ply() != 1 || ev.Game.WhiteTimeRemaining != 179500 {
		t.Fatalf("unexpected update event: %+v", ev)
	}
	if _, err := s.Mutate(ctx, g.ID, func(cur *store.Game) error {
		cur.Finish(store.ResultBlackWins, store.TermResignation)
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	ev = WaitEvent(t, sub)
	if ev.Game.Status != store.StatusCompleted || ev.Game.WinnerID != "bob" {
		t.Fatalf("unexpected mutate event: %+v", ev.Game)
	}
}

func testPlayerFeed(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub, err := s.SubscribePlayer(ctx, "bob")
	if err != nil {
		t.Fatalf("SubscribePlayer: %v", err)
	}
	defer sub.Close()
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "bob", TimeControl: clock.Blitz5, Rating: 1200}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	g := NewGame("bob", "alice", clock.Blitz5)
	if err := s.ClaimMatch(ctx, store.Match{Opponent: "bob", Claimer: "alice", Game: g}); err != nil {
		t.Fatalf("ClaimMatch: %v", err)
	}
	ev := WaitEvent(t, sub)
	if ev.Kind != store.EventInsert || ev.Game == nil || ev.Game.ID != g.ID {
		t.Fatalf("unexpected insert event: %+v", ev)
	}
}

func testQueueFeed(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub, err := s.SubscribeQueue(ctx, clock.Rapid10)
	if err != nil {
		t.Fatalf("SubscribeQueue: %v", err)
	}
	if err := s.UpsertQueueEntry(ctx, store.QueueEntry{UserID: "dave", TimeControl: clock.Rapid10, Rating: 1500}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
	ev := WaitEvent(t, sub)
	if ev.Kind != store.EventQueue || ev.Entry == nil || ev.Entry.UserID != "dave" {
		t.Fatalf("unexpected queue event: %+v", ev)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("events channel still open after Close")
	}
}
