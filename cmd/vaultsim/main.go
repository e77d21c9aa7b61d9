package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradevault/ledger/internal/config"
	"github.com/tradevault/ledger/internal/events"
	"github.com/tradevault/ledger/internal/factory"
	"github.com/tradevault/ledger/internal/metrics"
	"github.com/tradevault/ledger/internal/registry"
	"github.com/tradevault/ledger/internal/sim"
	"github.com/tradevault/ledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Event sinks ---
	sinks := events.Multi{events.Logger{Log: logger}}
	if cfg.EventStream != "" {
		if rdb == nil {
			slog.Error("EVENT_STREAM requires REDIS_URL")
			os.Exit(1)
		}
		sinks = append(sinks, events.NewRedisStream(rdb, cfg.EventStream, int64(cfg.EventStreamMaxLen)))
		slog.Info("publishing events to Redis stream", "stream", cfg.EventStream)
	}

	// --- Ledger ---
	tokens, err := sim.MockTokens(cfg.SimOwner, int32(cfg.AssetDecimals))
	if err != nil {
		slog.Error("mock token deployment failed", "err", err)
		os.Exit(1)
	}
	for _, sym := range sim.MockSymbols {
		slog.Info("mock token deployed", "symbol", sym, "address", tokens[sym].Address().Hex())
	}
	if cfg.Persistent() {
		slog.Warn("mock tokens are in-memory while the ledger persists; vaults funded by an earlier run cannot be withdrawn",
			"factory", cfg.FactoryAddress.Hex(),
		)
	}

	reg := registry.New(st,
		registry.WithEvents(sinks),
		registry.WithMaxStep(uint64(cfg.ReputationMaxStep)),
		registry.WithTrustedUpdaters(cfg.TrustedUpdaters...),
	)
	fac, err := factory.New(ctx, st, sim.Directory(tokens),
		factory.WithAddress(cfg.FactoryAddress),
		factory.WithGuardian(cfg.GuardianAddress),
		factory.WithRegistry(reg),
		factory.WithEvents(sinks),
	)
	if err != nil {
		slog.Error("factory init failed", "err", err)
		os.Exit(1)
	}

	// --- Ops endpoint ---
	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = opsServer(cfg.MetricsAddr)
		go func() {
			slog.Info("ops endpoint listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "err", err)
				stop()
			}
		}()
	}

	// --- Scenario ---
	steps, err := sim.ParseTrades(cfg.SimTrades)
	if err != nil {
		slog.Error("invalid SIM_TRADES", "err", err)
		os.Exit(1)
	}
	runner := sim.Runner{Factory: fac, Registry: reg, Tokens: tokens}
	report, err := runner.Run(ctx, sim.Scenario{
		Owner:   cfg.SimOwner,
		Trader:  cfg.SimTrader,
		Asset:   cfg.SimAsset,
		Deposit: cfg.SimDeposit,
		Trades:  steps,
	})
	if err != nil {
		slog.Error("scenario failed", "err", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("report encode failed", "err", err)
	}

	if srv == nil {
		return
	}

	// Keep serving metrics until signalled.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vaultsim...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Fprintln(os.Stderr, "vaultsim stopped")
}

func opsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vaultsim"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
