// Package memstore is an in-process store for development and tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	games   map[string]*store.Game
	rooms   map[string]string // code -> latest game id
	entries map[string]store.QueueEntry
	hub     *store.Hub
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		games:   make(map[string]*store.Game),
		rooms:   make(map[string]string),
		entries: make(map[string]store.QueueEntry),
		hub:     store.NewHub(),
		now:     time.Now,
	}
}

func (s *Store) CreateGame(ctx context.Context, g *store.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return store.Wrap("create_game", errors.New("missing game id"))
	}
	s.mu.Lock()
	if _, exists := s.games[g.ID]; exists {
		s.mu.Unlock()
		return store.Wrap("create_game", errors.New("duplicate game id"))
	}
	code := strings.ToUpper(g.RoomCode)
	if code != "" {
		if _, taken := s.rooms[code]; taken {
			s.mu.Unlock()
			return store.ErrRoomCodeTaken
		}
		s.rooms[code] = g.ID
	}
	c := s.stamp(g)
	s.games[g.ID] = c
	s.mu.Unlock()
	s.hub.PublishGame(store.EventInsert, c)
	return nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*store.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Store) FindRoom(ctx context.Context, code string) (*store.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.rooms[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	g, ok := s.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Store) UpdateGame(ctx context.Context, g *store.Game) error {
	s.mu.Lock()
	cur, ok := s.games[g.ID]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if cur.Terminal() {
		s.mu.Unlock()
		return store.ErrGameFinished
	}
	c := s.stamp(g)
	s.games[g.ID] = c
	s.mu.Unlock()
	s.hub.PublishGame(store.EventUpdate, c)
	return nil
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(*store.Game) error) (*store.Game, error) {
	s.mu.Lock()
	cur, ok := s.games[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	c := s.stamp(next)
	s.games[id] = c
	s.mu.Unlock()
	s.hub.PublishGame(store.EventUpdate, c)
	return c.Clone(), nil
}

func (s *Store) UpsertQueueEntry(ctx context.Context, e store.QueueEntry) error {
	if strings.TrimSpace(e.UserID) == "" {
		return store.Wrap("upsert_queue", errors.New("missing user id"))
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = s.now()
	}
	s.mu.Lock()
	s.entries[e.UserID] = e
	s.mu.Unlock()
	s.hub.Publish(store.QueueTopic(e.TimeControl), store.Event{Kind: store.EventQueue, Entry: &e})
	return nil
}

func (s *Store) DeleteQueueEntry(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}

func (s *Store) FindOpponent(ctx context.Context, tc clock.TimeControl, exclude string) (*store.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []store.QueueEntry
	for _, e := range s.entries {
		if e.TimeControl == tc && e.UserID != exclude {
			list = append(list, e)
		}
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	e := list[0]
	return &e, nil
}

func (s *Store) ClaimMatch(ctx context.Context, m store.Match) error {
	if m.Game == nil || strings.TrimSpace(m.Game.ID) == "" {
		return store.Wrap("claim_match", errors.New("missing game"))
	}
	s.mu.Lock()
	opp, ok := s.entries[m.Opponent]
	if !ok || opp.TimeControl != m.Game.TimeControl {
		s.mu.Unlock()
		return store.ErrEntryGone
	}
	if m.ClaimerQueued {
		if _, ok := s.entries[m.Claimer]; !ok {
			s.mu.Unlock()
			return store.ErrEntryGone
		}
		delete(s.entries, m.Claimer)
	}
	delete(s.entries, m.Opponent)
	c := s.stamp(m.Game)
	s.games[c.ID] = c
	s.mu.Unlock()
	s.hub.PublishGame(store.EventInsert, c)
	return nil
}

func (s *Store) SubscribeGame(ctx context.Context, id string) (store.Subscription, error) {
	return s.hub.Subscribe(store.GameTopic(id)), nil
}

func (s *Store) SubscribePlayer(ctx context.Context, userID string) (store.Subscription, error) {
	return s.hub.Subscribe(store.PlayerTopic(userID)), nil
}

func (s *Store) SubscribeQueue(ctx context.Context, tc clock.TimeControl) (store.Subscription, error) {
	return s.hub.Subscribe(store.QueueTopic(tc)), nil
}

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

// stamp stores a private copy with UpdatedAt set.
func (s *Store) stamp(g *store.Game) *store.Game {
	c := g.Clone()
	c.RoomCode = strings.ToUpper(c.RoomCode)
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return c
}
