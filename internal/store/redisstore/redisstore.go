// Package redisstore keeps game records, room codes and the matchmaking queue
// in redis and uses pub/sub as the change feed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
)

const (
	DefaultTTL = 24 * time.Hour
	maxTxRetry = 8
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// Open dials redisURL and pings it.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	ro, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, opts...), nil
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func gameKey(id string) string             { return "og:game:" + strings.TrimSpace(id) }
func roomKey(code string) string           { return "og:room:" + strings.ToUpper(strings.TrimSpace(code)) }
func queueKey(tc clock.TimeControl) string { return "og:queue:" + string(tc) }
func entryKey(userID string) string        { return "og:queue:entry:" + strings.TrimSpace(userID) }
func channel(topic string) string          { return "og:events:" + topic }
func score(t time.Time) float64            { return float64(t.UnixMicro()) }

func (s *Store) CreateGame(ctx context.Context, g *store.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return store.Wrap("create_game", errors.New("missing game id"))
	}
	c := s.stamp(g)
	raw, err := json.Marshal(c)
	if err != nil {
		return store.Wrap("create_game", err)
	}
	if c.RoomCode != "" {
		ok, err := s.rdb.SetNX(ctx, roomKey(c.RoomCode), c.ID, s.ttl).Result()
		if err != nil {
			return store.Wrap("create_game", err)
		}
		if !ok {
			return store.ErrRoomCodeTaken
		}
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(c.ID), raw, s.ttl).Result()
	if err != nil {
		return store.Wrap("create_game", err)
	}
	if !ok {
		return store.Wrap("create_game", errors.New("duplicate game id"))
	}
	s.publishGame(ctx, store.EventInsert, c)
	return nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*store.Game, error) {
	return s.getGame(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getGame(ctx context.Context, c getter, id string) (*store.Game, error) {
	raw, err := c.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("get_game", err)
	}
	var g store.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, store.Wrap("get_game", err)
	}
	return &g, nil
}

func (s *Store) FindRoom(ctx context.Context, code string) (*store.Game, error) {
	id, err := s.rdb.Get(ctx, roomKey(code)).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("find_room", err)
	}
	return s.GetGame(ctx, id)
}

func (s *Store) UpdateGame(ctx context.Context, g *store.Game) error {
	if g == nil {
		return store.Wrap("update_game", errors.New("nil game"))
	}
	c := s.stamp(g)
	raw, err := json.Marshal(c)
	if err != nil {
		return store.Wrap("update_game", err)
	}
	key := gameKey(c.ID)
	err = s.watch(ctx, "update_game", func(tx *redis.Tx) error {
		cur, err := s.getGame(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return store.ErrGameFinished
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return err
	}
	s.publishGame(ctx, store.EventUpdate, c)
	return nil
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(*store.Game) error) (*store.Game, error) {
	key := gameKey(id)
	var out *store.Game
	var fnErr error
	err := s.watch(ctx, "mutate_game", func(tx *redis.Tx) error {
		cur, err := s.getGame(ctx, tx, id)
		if err != nil {
			return err
		}
		if fnErr = fn(cur); fnErr != nil {
			return fnErr
		}
		next := s.stamp(cur)
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}, key)
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, err
	}
	s.publishGame(ctx, store.EventUpdate, out)
	return out.Clone(), nil
}

func (s *Store) UpsertQueueEntry(ctx context.Context, e store.QueueEntry) error {
	if strings.TrimSpace(e.UserID) == "" {
		return store.Wrap("upsert_queue", errors.New("missing user id"))
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = s.now()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return store.Wrap("upsert_queue", err)
	}
	ek := entryKey(e.UserID)
	err = s.watch(ctx, "upsert_queue", func(tx *redis.Tx) error {
		prev, err := getEntry(ctx, tx, e.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil && prev.TimeControl != e.TimeControl {
				pipe.ZRem(ctx, queueKey(prev.TimeControl), e.UserID)
			}
			pipe.Set(ctx, ek, raw, s.ttl)
			pipe.ZAdd(ctx, queueKey(e.TimeControl), redis.Z{Score: score(e.JoinedAt), Member: e.UserID})
			return nil
		})
		return err
	}, ek)
	if err != nil {
		return err
	}
	s.publish(ctx, store.QueueTopic(e.TimeControl), store.Event{Kind: store.EventQueue, Entry: &e})
	return nil
}

func (s *Store) DeleteQueueEntry(ctx context.Context, userID string) error {
	ek := entryKey(userID)
	return s.watch(ctx, "delete_queue", func(tx *redis.Tx) error {
		prev, err := getEntry(ctx, tx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, ek)
			pipe.ZRem(ctx, queueKey(prev.TimeControl), userID)
			return nil
		})
		return err
	}, ek)
}

func getEntry(ctx context.Context, c getter, userID string) (*store.QueueEntry, error) {
	raw, err := c.Get(ctx, entryKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e store.QueueEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

const findPage = 16

// FindOpponent walks the queue oldest first and prunes members whose entry expired.
func (s *Store) FindOpponent(ctx context.Context, tc clock.TimeControl, exclude string) (*store.QueueEntry, error) {
	qk := queueKey(tc)
	for start := int64(0); ; start += findPage {
		ids, err := s.rdb.ZRange(ctx, qk, start, start+findPage-1).Result()
		if err != nil {
			return nil, store.Wrap("find_opponent", err)
		}
		if len(ids) == 0 {
			return nil, store.ErrNotFound
		}
		pruned := int64(0)
		for _, id := range ids {
			if id == exclude {
				continue
			}
			e, err := getEntry(ctx, s.rdb, id)
			if errors.Is(err, store.ErrNotFound) || (err == nil && e.TimeControl != tc) {
				_ = s.rdb.ZRem(ctx, qk, id).Err()
				pruned++
				continue
			}
			if err != nil {
				return nil, store.Wrap("find_opponent", err)
			}
			return e, nil
		}
		start -= pruned
	}
}

// ClaimMatch consumes the opponent entry (and the claimer's when queued) and
// inserts the game in one transaction.
func (s *Store) ClaimMatch(ctx context.Context, m store.Match) error {
	if m.Game == nil || strings.TrimSpace(m.Game.ID) == "" {
		return store.Wrap("claim_match", errors.New("missing game"))
	}
	c := s.stamp(m.Game)
	raw, err := json.Marshal(c)
	if err != nil {
		return store.Wrap("claim_match", err)
	}
	keys := []string{entryKey(m.Opponent)}
	if m.ClaimerQueued {
		keys = append(keys, entryKey(m.Claimer))
	}
	err = s.watch(ctx, "claim_match", func(tx *redis.Tx) error {
		opp, err := getEntry(ctx, tx, m.Opponent)
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrEntryGone
		}
		if err != nil {
			return err
		}
		if opp.TimeControl != c.TimeControl {
			return store.ErrEntryGone
		}
		var mine *store.QueueEntry
		if m.ClaimerQueued {
			mine, err = getEntry(ctx, tx, m.Claimer)
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrEntryGone
			}
			if err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, entryKey(m.Opponent))
			pipe.ZRem(ctx, queueKey(opp.TimeControl), m.Opponent)
			if mine != nil {
				pipe.Del(ctx, entryKey(m.Claimer))
				pipe.ZRem(ctx, queueKey(mine.TimeControl), m.Claimer)
			}
			pipe.Set(ctx, gameKey(c.ID), raw, s.ttl)
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return err
	}
	s.publishGame(ctx, store.EventInsert, c)
	return nil
}

// watch runs fn under WATCH and retries lost optimistic races.
func (s *Store) watch(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxTxRetry; i++ {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return store.Wrap(op, err)
		}
	}
	return store.Wrap(op, err)
}

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

func (s *Store) publishGame(ctx context.Context, kind store.EventKind, g *store.Game) {
	ev := store.Event{Kind: kind, Game: g}
	if kind == store.EventInsert {
		for _, p := range g.Players() {
			s.publish(ctx, store.PlayerTopic(p), ev)
		}
		return
	}
	s.publish(ctx, store.GameTopic(g.ID), ev)
}

// publish is best effort; the write already committed and readers can refetch.
func (s *Store) publish(ctx context.Context, topic string, ev store.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		obslog.L().Error("redis_publish_encode_error", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, channel(topic), raw).Err(); err != nil {
		obslog.L().Warn("redis_publish_error", zap.String("topic", topic), zap.Error(err))
	}
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
