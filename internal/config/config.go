package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type AppConfig struct {
	ListenAddr string

	StoreBackend string
	RedisURL     string
	SQLitePath   string
	SQLitePollMs int
	GameTTLSec   int

	DatabaseURL string

	AuthBaseURL   string
	AuthTimeoutMs int

	BotThinkMinMs int
	BotThinkMaxMs int

	MessagesDir string

	// AllowedOrigins are websocket origin host patterns; empty accepts any.
	AllowedOrigins []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:    ":8080",
		StoreBackend:  BackendMemory,
		SQLitePath:    "data/chess.db",
		SQLitePollMs:  150,
		GameTTLSec:    86400,
		AuthTimeoutMs: 3000,
		BotThinkMinMs: 300,
		BotThinkMaxMs: 700,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.StoreBackend = strings.ToLower(v)
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AuthBaseURL = strings.TrimSpace(os.Getenv("AUTH_BASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.AllowedOrigins = csv(os.Getenv("ALLOWED_ORIGINS"))

	positiveInt("SQLITE_POLL_MS", &cfg.SQLitePollMs)
	positiveInt("GAME_TTL_SEC", &cfg.GameTTLSec)
	positiveInt("AUTH_TIMEOUT_MS", &cfg.AuthTimeoutMs)
	positiveInt("BOT_THINK_MIN_MS", &cfg.BotThinkMinMs)
	positiveInt("BOT_THINK_MAX_MS", &cfg.BotThinkMaxMs)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, redis or sqlite (got %q)", c.StoreBackend)
	}
	if c.StoreBackend == BackendSQLite && c.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required when STORE_BACKEND=sqlite")
	}
	if c.BotThinkMaxMs < c.BotThinkMinMs {
		return fmt.Errorf("BOT_THINK_MAX_MS (%d) is below BOT_THINK_MIN_MS (%d)", c.BotThinkMaxMs, c.BotThinkMinMs)
	}
	return nil
}

// positiveInt overwrites *dst when key holds a positive integer.
func positiveInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

// csv splits a comma-separated list, dropping blanks.
func csv(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
