// Package sqlitestore persists games and the queue in SQLite. It has no push
// channel, so writes append to a change log that a poller fans out.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
)

const (
	DefaultPollInterval = 150 * time.Millisecond
	changeLogRetention  = 5 * time.Minute
	pruneEvery          = 200
)

type Store struct {
	db   *sql.DB
	hub  *store.Hub
	now  func() time.Time
	poll time.Duration

	cursorMu sync.Mutex
	cursor   int64

	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Open creates the database file if needed, migrates it and starts the feed poller.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer keeps immediate transactions from contending with the poller
	db.SetMaxOpenConns(1)
	s := &Store{db: db, hub: store.NewHub(), now: time.Now, poll: DefaultPollInterval, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM change_log").Scan(&s.cursor); err != nil {
		db.Close()
		return nil, fmt.Errorf("read change log: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS online_games (
			id         TEXT PRIMARY KEY,
			room_code  TEXT,
			status     TEXT NOT NULL,
			record     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS online_games_room_code
			ON online_games(room_code) WHERE room_code IS NOT NULL;
		CREATE TABLE IF NOT EXISTS matchmaking_queue (
			user_id      TEXT PRIMARY KEY,
			time_control TEXT NOT NULL,
			rating       INTEGER NOT NULL,
			joined_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS matchmaking_queue_tc
			ON matchmaking_queue(time_control, joined_at);
		CREATE TABLE IF NOT EXISTS change_log (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			topic      TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

func (s *Store) Close() error {
	s.cancel()
	<-s.done
	s.hub.Close()
	return s.db.Close()
}

func nullCode(code string) any {
	if code == "" {
		return nil
	}
	return code
}

func (s *Store) CreateGame(ctx context.Context, g *store.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return store.Wrap("create_game", errors.New("missing game id"))
	}
	c := s.stamp(g)
	return s.inTx(ctx, "create_game", func(tx *sql.Tx) error {
		if c.RoomCode != "" {
			var n int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM online_games WHERE room_code = ?", c.RoomCode).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return store.ErrRoomCodeTaken
			}
		}
		if err := insertGame(ctx, tx, c); err != nil {
			return err
		}
		return s.logGame(ctx, tx, store.EventInsert, c)
	})
}

func insertGame(ctx context.Context, tx *sql.Tx, g *store.Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO online_games (id, room_code, status, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		g.ID, nullCode(g.RoomCode), string(g.Status), string(raw), g.CreatedAt.UnixMicro(), g.UpdatedAt.UnixMicro(),
	)
	return err
}

func writeGame(ctx context.Context, tx *sql.Tx, g *store.Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE online_games SET status = ?, record = ?, updated_at = ? WHERE id = ?",
		string(g.Status), string(raw), g.UpdatedAt.UnixMicro(), g.ID,
	)
	return err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readGame(ctx context.Context, q queryRower, where string, arg any) (*store.Game, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT record FROM online_games WHERE "+where+" ORDER BY created_at DESC LIMIT 1", arg).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g store.Game
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*store.Game, error) {
	g, err := readGame(ctx, s.db, "id = ?", id)
	return g, store.Wrap("get_game", err)
}

func (s *Store) FindRoom(ctx context.Context, code string) (*store.Game, error) {
	g, err := readGame(ctx, s.db, "room_code = ?", strings.ToUpper(strings.TrimSpace(code)))
	return g, store.Wrap("find_room", err)
}

func (s *Store) UpdateGame(ctx context.Context, g *store.Game) error {
	if g == nil {
		return store.Wrap("update_game", errors.New("nil game"))
	}
	c := s.stamp(g)
	return s.inTx(ctx, "update_game", func(tx *sql.Tx) error {
		cur, err := readGame(ctx, tx, "id = ?", c.ID)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return store.ErrGameFinished
		}
		if err := writeGame(ctx, tx, c); err != nil {
			return err
		}
		return s.logGame(ctx, tx, store.EventUpdate, c)
	})
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(*store.Game) error) (*store.Game, error) {
	var out *store.Game
	var fnErr error
	err := s.inTx(ctx, "mutate_game", func(tx *sql.Tx) error {
		cur, err := readGame(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		if fnErr = fn(cur); fnErr != nil {
			return fnErr
		}
		out = s.stamp(cur)
		if err := writeGame(ctx, tx, out); err != nil {
			return err
		}
		return s.logGame(ctx, tx, store.EventUpdate, out)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertQueueEntry(ctx context.Context, e store.QueueEntry) error {
	if strings.TrimSpace(e.UserID) == "" {
		return store.Wrap("upsert_queue", errors.New("missing user id"))
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = s.now()
	}
	return s.inTx(ctx, "upsert_queue", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO matchmaking_queue (user_id, time_control, rating, joined_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				time_control = excluded.time_control,
				rating = excluded.rating,
				joined_at = excluded.joined_at`,
			e.UserID, string(e.TimeControl), e.Rating, e.JoinedAt.UnixMicro(),
		)
		if err != nil {
			return err
		}
		return s.logEvent(ctx, tx, store.QueueTopic(e.TimeControl), store.Event{Kind: store.EventQueue, Entry: &e})
	})
}

func (s *Store) DeleteQueueEntry(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM matchmaking_queue WHERE user_id = ?", userID)
	return store.Wrap("delete_queue", err)
}

func (s *Store) FindOpponent(ctx context.Context, tc clock.TimeControl, exclude string) (*store.QueueEntry, error) {
	var e store.QueueEntry
	var tcs string
	var joined int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, time_control, rating, joined_at FROM matchmaking_queue
		WHERE time_control = ? AND user_id <> ?
		ORDER BY joined_at, user_id LIMIT 1`, string(tc), exclude,
	).Scan(&e.UserID, &tcs, &e.Rating, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("find_opponent", err)
	}
	e.TimeControl = clock.TimeControl(tcs)
	e.JoinedAt = time.UnixMicro(joined)
	return &e, nil
}

func (s *Store) ClaimMatch(ctx context.Context, m store.Match) error {
	if m.Game == nil || strings.TrimSpace(m.Game.ID) == "" {
		return store.Wrap("claim_match", errors.New("missing game"))
	}
	c := s.stamp(m.Game)
	return s.inTx(ctx, "claim_match", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM matchmaking_queue WHERE user_id = ? AND time_control = ?", m.Opponent, string(c.TimeControl))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrEntryGone
		}
		if m.ClaimerQueued {
			res, err := tx.ExecContext(ctx, "DELETE FROM matchmaking_queue WHERE user_id = ?", m.Claimer)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return store.ErrEntryGone
			}
		}
		if err := insertGame(ctx, tx, c); err != nil {
			return err
		}
		return s.logGame(ctx, tx, store.EventInsert, c)
	})
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

// inTx commits fn's work or rolls it back. Domain sentinels pass through unwrapped.
func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return store.Wrap(op, err)
	}
	return store.Wrap(op, tx.Commit())
}

func (s *Store) logGame(ctx context.Context, tx *sql.Tx, kind store.EventKind, g *store.Game) error {
	ev := store.Event{Kind: kind, Game: g}
	if kind == store.EventInsert {
		for _, p := range g.Players() {
			if err := s.logEvent(ctx, tx, store.PlayerTopic(p), ev); err != nil {
				return err
			}
		}
		return nil
	}
	return s.logEvent(ctx, tx, store.GameTopic(g.ID), ev)
}

func (s *Store) logEvent(ctx context.Context, tx *sql.Tx, topic string, ev store.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO change_log (topic, payload, created_at) VALUES (?, ?, ?)", topic, string(raw), s.now().UnixMicro())
	return err
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

func (s *Store) run(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.pollOnce(ctx); err != nil && ctx.Err() == nil {
				obslog.L().Warn("sqlite_poll_error", zap.Error(err))
			}
			if n%pruneEvery == 0 {
				s.prune(ctx)
			}
		}
	}
}

// pollOnce dispatches change-log rows past the cursor in commit order.
func (s *Store) pollOnce(ctx context.Context) error {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	rows, err := s.db.QueryContext(ctx, "SELECT seq, topic, payload FROM change_log WHERE seq > ? ORDER BY seq", s.cursor)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		var topic, payload string
		if err := rows.Scan(&seq, &topic, &payload); err != nil {
			return err
		}
		s.cursor = seq
		var ev store.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			obslog.L().Warn("sqlite_change_decode_error", zap.Int64("seq", seq), zap.Error(err))
			continue
		}
		s.hub.Publish(topic, ev)
	}
	return rows.Err()
}

func (s *Store) prune(ctx context.Context) {
	cutoff := s.now().Add(-changeLogRetention).UnixMicro()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM change_log WHERE created_at < ?", cutoff); err != nil && ctx.Err() == nil {
		obslog.L().Warn("sqlite_prune_error", zap.Error(err))
	}
}
