package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/atmx/lmsr-amm/internal/api"
	"github.com/atmx/lmsr-amm/internal/config"
	"github.com/atmx/lmsr-amm/internal/exchange"
	"github.com/atmx/lmsr-amm/internal/limits"
	"github.com/atmx/lmsr-amm/internal/logging"
	"github.com/atmx/lmsr-amm/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("config-failed")
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		log.Fatal().Err(err).Msg("logging-setup-failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store-failed")
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Position limits ---
	limiter := limits.NewPositionLimiter(cfg.MaxPerOutcome(), cfg.MaxGross(), cfg.AllowShortSales)

	// --- WebSocket hub ---
	hub := api.NewWSHub()
	go hub.Run(ctx)

	// --- Exchange ---
	markets := exchange.NewManager(st, exchange.Options{
		DefaultLiquidity: cfg.DefaultLiquidity,
		Limiter:          limiter,
		Listener:         hub,
	})
	if err := markets.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("markets-load-failed")
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(api.NewHandler(markets), hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("lmsr-amm-listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server-error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("shutting-down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown-error")
	}
	log.Info().Msg("lmsr-amm-stopped")
}

// openStore selects Postgres, then SQLite, then memory, and wraps the result
// with the Redis cache when REDIS_URL is set.
func openStore(ctx context.Context, cfg config.Config) (store.Store, []func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)

	switch {
	case cfg.DatabaseURL != "":
		if err := store.MigratePostgres(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		log.Info().Msg("connected-to-postgres")

	case cfg.SqlitePath != "":
		if err := store.MigrateSqlite(cfg.SqlitePath); err != nil {
			return nil, nil, err
		}
		sq, err := store.NewSqliteStore(cfg.SqlitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		log.Info().Str("path", cfg.SqlitePath).Msg("opened-sqlite")

	default:
		log.Warn().Msg("no DATABASE_URL or SQLITE_PATH, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			for _, fn := range cleanup {
				fn()
			}
			return nil, nil, err
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		log.Info().Dur("ttl", cfg.CacheTTL).Msg("redis-cache-enabled")
	}

	return st, cleanup, nil
}
