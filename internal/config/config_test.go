package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LISTEN_ADDR", "STORE_BACKEND", "REDIS_URL", "SQLITE_PATH", "SQLITE_POLL_MS", "GAME_TTL_SEC", "DATABASE_URL", "AUTH_BASE_URL", "AUTH_TIMEOUT_MS", "BOT_THINK_MIN_MS", "BOT_THINK_MAX_MS", "MESSAGES_DIR", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.StoreBackend != BackendMemory || cfg.SQLitePollMs != 150 || cfg.GameTTLSec != 86400 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BotThinkMinMs != 300 || cfg.BotThinkMaxMs != 700 || cfg.AuthTimeoutMs != 3000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("origins default to any: %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", " Redis ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("GAME_TTL_SEC", "600")
	t.Setenv("SQLITE_POLL_MS", "not-a-number")
	t.Setenv("BOT_THINK_MIN_MS", "-5")
	t.Setenv("ALLOWED_ORIGINS", " chess.example.com, ,*.chess.example.com ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendRedis || cfg.GameTTLSec != 600 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.SQLitePollMs != 150 || cfg.BotThinkMinMs != 300 {
		t.Fatalf("invalid numbers should keep defaults: %+v", cfg)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "chess.example.com|*.chess.example.com" {
		t.Fatalf("origins = %q", cfg.AllowedOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"redis without url", map[string]string{"STORE_BACKEND": "redis", "REDIS_URL": ""}, "REDIS_URL is required"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "etcd"}, "STORE_BACKEND must be"},
		{"inverted think window", map[string]string{"STORE_BACKEND": "memory", "BOT_THINK_MIN_MS": "900", "BOT_THINK_MAX_MS": "400"}, "BOT_THINK_MAX_MS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}
