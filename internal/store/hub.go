package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

const hubBuffer = 64

// Hub fans events out to in-process subscribers by topic. Backends without a
// native change feed publish through it after each committed write.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

type hubSub struct {
	hub   *Hub
	topic string
	ch    chan Event
	once  sync.Once
}

func (s *hubSub) Events() <-chan Event { return s.ch }

func (s *hubSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if set, ok := s.hub.subs[s.topic]; ok {
			if _, live := set[s]; live {
				delete(set, s)
				close(s.ch)
			}
			if len(set) == 0 {
				delete(s.hub.subs, s.topic)
			}
		}
	})
	return nil
}

func (h *Hub) Subscribe(topic string) Subscription {
	s := &hubSub{hub: h, topic: topic, ch: make(chan Event, hubBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	set := h.subs[topic]
	if set == nil {
		set = make(map[*hubSub]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(topic string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[topic] {
		select {
		case s.ch <- ev.clone():
		default:
			obslog.L().Warn("store_event_dropped", zap.String("topic", topic), zap.String("kind", string(ev.Kind)))
		}
	}
}

// PublishGame sends an insert to every player topic or an update to the game topic.
func (h *Hub) PublishGame(kind EventKind, g *Game) {
	ev := Event{Kind: kind, Game: g}
	if kind == EventInsert {
		for _, p := range g.Players() {
			h.Publish(PlayerTopic(p), ev)
		}
		return
	}
	h.Publish(GameTopic(g.ID), ev)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
		delete(h.subs, topic)
	}
}
