package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/cheese-arena/internal/clock"
)

var (
	ErrNotFound      = errf("not found")
	ErrRoomCodeTaken = errf("room code taken")
	ErrEntryGone     = errf("queue entry gone")
	ErrGameFinished  = errf("game already finished")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Error is a backend or transport failure. Domain outcomes such as
// ErrNotFound are returned bare and never wrapped in Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err as a StoreError unless it is nil, already one, or a domain
// sentinel of this package.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var st staticErr
	if errors.As(err, &st) {
		return err
	}
	return &Error{Op: op, Err: err}
}

func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Subscription delivers change events until Close. Events is closed after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Store is the shared session store. Every Subscribe call returns a live feed.
type Store interface {
	CreateGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	FindRoom(ctx context.Context, code string) (*Game, error)
	UpdateGame(ctx context.Context, g *Game) error
	Mutate(ctx context.Context, id string, fn func(*Game) error) (*Game, error)

	UpsertQueueEntry(ctx context.Context, e QueueEntry) error
	DeleteQueueEntry(ctx context.Context, userID string) error
	FindOpponent(ctx context.Context, tc clock.TimeControl, exclude string) (*QueueEntry, error)
	ClaimMatch(ctx context.Context, m Match) error

	SubscribeGame(ctx context.Context, id string) (Subscription, error)
	SubscribePlayer(ctx context.Context, userID string) (Subscription, error)
	SubscribeQueue(ctx context.Context, tc clock.TimeControl) (Subscription, error)

	Close() error
}
