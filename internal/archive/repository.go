// Package archive stores finished online games in Postgres.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/store"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS online_game_results (
	game_id       TEXT PRIMARY KEY,
	white_id      TEXT NOT NULL,
	black_id      TEXT NOT NULL,
	time_control  TEXT NOT NULL,
	result        TEXT NOT NULL,
	winner_id     TEXT,
	result_method TEXT,
	room_code     TEXT,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

// EnsureSchema creates the results table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

const upsertResult = `INSERT INTO online_game_results (
    game_id, white_id, black_id, time_control,
    result, winner_id, result_method, room_code,
    moves_uci, moves_san, pgn,
    started_at, ended_at, duration_ms
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
  ) ON CONFLICT (game_id) DO UPDATE SET
    result=EXCLUDED.result,
    winner_id=EXCLUDED.winner_id,
    result_method=EXCLUDED.result_method,
    moves_uci=EXCLUDED.moves_uci,
    moves_san=EXCLUDED.moves_san,
    pgn=EXCLUDED.pgn,
    ended_at=EXCLUDED.ended_at,
    duration_ms=EXCLUDED.duration_ms`

// SaveResult upserts a completed game. Unfinished records are ignored.
func (r *Repository) SaveResult(ctx context.Context, g *store.Game) error {
	if r == nil || r.db == nil || g == nil || g.Status != store.StatusCompleted {
		return nil
	}
	_, err := r.db.ExecContext(ctx, upsertResult, resultArgs(g)...)
	return err
}

func resultArgs(g *store.Game) []any {
	movesUCI, _ := json.Marshal(nonNil(g.Moves))
	movesSAN, _ := json.Marshal(nonNil(g.MovesSAN))
	pgn := g.PGN
	if strings.TrimSpace(pgn) == "" {
		pgn = BuildPGN(g)
	}
	ended := g.UpdatedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	duration := ended.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	return []any{
		g.ID, g.WhitePlayerID, g.BlackPlayerID, string(g.TimeControl),
		ResultToPGN(g.Result), nullString(g.WinnerID), nullString(g.Termination), nullString(g.RoomCode),
		string(movesUCI), string(movesSAN), pgn,
		g.CreatedAt, ended, duration,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}
