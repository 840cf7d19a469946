package redisstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
)

const subBuffer = 64

type subscription struct {
	ps   *redis.PubSub
	out  chan store.Event
	once sync.Once
	done chan struct{}
}

func (s *subscription) Events() <-chan store.Event { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

func (s *Store) SubscribeGame(ctx context.Context, id string) (store.Subscription, error) {
	return s.subscribe(ctx, store.GameTopic(id))
}

func (s *Store) SubscribePlayer(ctx context.Context, userID string) (store.Subscription, error) {
	return s.subscribe(ctx, store.PlayerTopic(userID))
}

func (s *Store) SubscribeQueue(ctx context.Context, tc clock.TimeControl) (store.Subscription, error) {
	return s.subscribe(ctx, store.QueueTopic(tc))
}

// subscribe waits for the server confirmation so the feed is live on return.
func (s *Store) subscribe(ctx context.Context, topic string) (store.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, store.Wrap("subscribe", err)
	}
	sub := &subscription{
		ps:   ps,
		out:  make(chan store.Event, subBuffer),
		done: make(chan struct{}),
	}
	go sub.pump(topic)
	return sub, nil
}

func (s *subscription) pump(topic string) {
	defer close(s.done)
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var ev store.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			obslog.L().Warn("redis_subscribe_decode_error", zap.String("topic", topic), zap.Error(err))
			continue
		}
		select {
		case s.out <- ev:
		default:
			obslog.L().Warn("redis_subscribe_dropped", zap.String("topic", topic), zap.String("kind", string(ev.Kind)))
		}
	}
}
