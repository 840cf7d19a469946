package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/archive"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/gateway"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/internal/store/redisstore"
	"github.com/park285/cheese-arena/internal/store/sqlitestore"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal("store_open_error", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("msgcat_load_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	opts := []gateway.Option{
		gateway.WithThinkWindow(
			time.Duration(cfg.BotThinkMinMs)*time.Millisecond,
			time.Duration(cfg.BotThinkMaxMs)*time.Millisecond,
		),
	}
	if len(cfg.AllowedOrigins) > 0 {
		opts = append(opts, gateway.WithOriginPatterns(cfg.AllowedOrigins...))
	} else {
		logger.Warn("gateway_any_origin", zap.String("hint", "set ALLOWED_ORIGINS to restrict browser origins"))
	}

	// Archive is optional; games still finish without it.
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_open_error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			logger.Fatal("archive_schema_error", zap.Error(err))
		}
		opts = append(opts, gateway.WithArchiver(repo))
	}

	var auth identity.Provider
	if cfg.AuthBaseURL != "" {
		auth = identity.NewRemote(cfg.AuthBaseURL, identity.WithTimeout(time.Duration(cfg.AuthTimeoutMs)*time.Millisecond))
	} else {
		auth = identity.NewStatic(nil)
		opts = append(opts, gateway.WithDevUsers(true))
		logger.Warn("identity_dev_mode", zap.String("hint", "set AUTH_BASE_URL to verify tokens"))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.New(st, auth, cat, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("gateway_listen", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("gateway_listen_error", zap.Error(err))
		}
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("gateway_shutdown_error", zap.Error(err))
	}
	logger.Info("gateway_stopped")
}

func openStore(cfg *appcfg.AppConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case appcfg.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.WithTTL(time.Duration(cfg.GameTTLSec)*time.Second))
		if err != nil {
			return nil, err
		}
		return s, nil
	case appcfg.BackendSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath, sqlitestore.WithPollInterval(time.Duration(cfg.SQLitePollMs)*time.Millisecond))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return memstore.New(), nil
	}
}
