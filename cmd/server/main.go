package main

import (
	"context"
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

	"github.com/pumparena/round-engine/internal/config"
	"github.com/pumparena/round-engine/internal/curve"
	"github.com/pumparena/round-engine/internal/deposit"
	"github.com/pumparena/round-engine/internal/engine"
	"github.com/pumparena/round-engine/internal/metrics"
	"github.com/pumparena/round-engine/internal/payout"
	"github.com/pumparena/round-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing curve ---
	amm, err := curve.New(cfg.BasePrice, cfg.FeeBps)
	if err != nil {
		slog.Error("invalid curve parameters", "err", err)
		os.Exit(1)
	}

	// --- Payout executor ---
	// The Recorder journals sweeps in-process; the on-chain executor is
	// wired here in production deployments.
	payoutExec := payout.NewRecorder(cfg.HouseAccount)

	// --- WebSocket hub ---
	wsHub := engine.NewWSHub()
	go wsHub.Run()

	// --- Round service ---
	validator := engine.NewTradeValidator(cfg.MinTrade)
	svc := engine.NewService(st, amm, validator, payoutExec, wsHub, cfg.InitialSupply, cfg.RoundDuration)

	// --- Deposit ledger ---
	ledger := deposit.NewLedger(st)

	// --- Expiry watcher ---
	watchCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()
	watcher := engine.NewWatcher(svc, cfg.WatcherInterval)
	go watcher.Run(watchCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"round-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time round updates.
		r.Get("/ws", wsHub.HandleWS)

		// Round lifecycle.
		r.Get("/rounds", svc.HandleListRounds)
		r.Post("/rounds", svc.HandleCreateRound)
		r.Get("/rounds/{roundID}", svc.HandleGetRound)
		r.Get("/rounds/{roundID}/snapshot", svc.HandleGetSnapshot)
		r.Get("/rounds/{roundID}/trades", svc.HandleListTrades)
		r.Post("/rounds/{roundID}/end", svc.HandleEndRound)
		r.Post("/rounds/{roundID}/cancel", svc.HandleCancelRound)

		// Trade execution.
		r.Post("/trade", svc.HandleTrade)

		// Player queries.
		r.Get("/players/{playerID}/portfolio", svc.HandleGetPortfolio)
		r.Get("/players/{playerID}/balance", ledger.HandleGetBalance)

		// Deposits and withdrawals.
		r.Post("/deposits", ledger.HandleDeposit)
		r.Post("/withdrawals", ledger.HandleWithdrawal)
		r.Post("/withdrawals/confirm", ledger.HandleConfirmWithdrawal)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("round-engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down round-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("round-engine stopped")
}
