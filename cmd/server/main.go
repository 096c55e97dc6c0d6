package main

import (
	"context"
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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/moveflow/vault-engine/internal/advisor"
	"github.com/moveflow/vault-engine/internal/api"
	"github.com/moveflow/vault-engine/internal/bot"
	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/chain"
	"github.com/moveflow/vault-engine/internal/config"
	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/metrics"
	"github.com/moveflow/vault-engine/internal/payload"
	"github.com/moveflow/vault-engine/internal/refresh"
	"github.com/moveflow/vault-engine/internal/store"
	"github.com/moveflow/vault-engine/internal/strategy"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Catalog and strategy table ---
	cat, err := catalog.New(catalog.Merge(catalog.DefaultProtocols(), cfg.Protocols)...)
	if err != nil {
		slog.Error("invalid protocol catalog", "err", err)
		os.Exit(1)
	}
	table := initialTable(ctx, st, cat, cfg)

	// --- Chain access ---
	pkg, err := contract.NewPackage(cfg.Chain.ModuleAddress)
	if err != nil {
		slog.Error("invalid module address", "err", err)
		os.Exit(1)
	}
	node := chain.NewClient(cfg.Chain.Timeout, cfg.Chain.NodeURLs...)
	reader := chain.NewReader(node, pkg, chain.Addresses{
		Vault:   cfg.Chain.VaultAddress,
		Router:  cfg.Chain.RouterAddress,
		Rewards: cfg.Chain.RewardsAddress,
	}, cfg.Chain.CoinType)
	builder, err := payload.NewBuilder(pkg, cfg.Chain.VaultAddress, cfg.Chain.CoinType)
	if err != nil {
		slog.Error("invalid vault address", "err", err)
		os.Exit(1)
	}

	// --- Refresh scheduler ---
	sched := refresh.New(reader, table, refresh.Config{
		VaultInterval:   cfg.Refresh.VaultInterval,
		RouterInterval:  cfg.Refresh.RouterInterval,
		MaxRetries:      cfg.Refresh.MaxRetries,
		MaxWatched:      cfg.Refresh.MaxWatched,
		WatchIdle:       cfg.Refresh.WatchIdle,
		ReadConcurrency: cfg.Refresh.ReadConcurrency,
	})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(func() api.WSMessage {
		snap := sched.Current()
		return api.WSMessage{Type: "snapshot", Seq: snap.VaultSeq, Data: snap}
	})
	go wsHub.Run(ctx)

	// --- API service ---
	svc := api.NewService(api.Options{
		Catalog:     cat,
		State:       sched,
		Balances:    reader,
		Rewards:     reader,
		RewardsPool: cfg.Chain.VaultAddress,
		Builder:     builder,
		Store:       st,
		FeeBps:      cfg.Fees.WithdrawalBps,
		Hub:         wsHub,
	})
	sched.OnUpdate(svc.OnUpdate)

	// --- Advisor and bot ---
	brief := func() string {
		snap := sched.Current()
		return advisor.Brief(snap.Strategies, cat, snap.Vault)
	}
	var adv bot.Advisor = advisor.Static{Brief: brief}
	if cfg.Anthropic.APIKey != "" {
		claude, err := advisor.NewClaude(cfg.Anthropic.APIKey, cfg.Anthropic.Model, brief)
		if err != nil {
			slog.Error("advisor init failed", "err", err)
			os.Exit(1)
		}
		adv = claude
		slog.Info("AI advisor enabled", "model", cfg.Anthropic.Model)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, AI answers disabled")
	}

	if cfg.Telegram.BotToken != "" {
		handler := bot.NewHandler(bot.Options{
			Catalog:     cat,
			State:       sched,
			Chain:       reader,
			Builder:     builder,
			Advisor:     adv,
			FeeBps:      cfg.Fees.WithdrawalBps,
			RewardsPool: cfg.Chain.VaultAddress,
		})
		tg := bot.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.APIURL, cfg.Proxy)
		go bot.New(tg, st, handler).Run(ctx)
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	if err := sched.Start(); err != nil {
		slog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"vault-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vault-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down vault-engine...")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vault-engine stopped")
}

// openStore picks Postgres (optionally Redis-cached), then SQLite, then
// memory, and returns the close functions to run on exit.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var cleanup []func()

	switch {
	case cfg.Database.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		var st store.Store = pg
		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL.String())
		}
		return st, cleanup, nil

	case cfg.Database.SQLitePath != "":
		lite, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		slog.Info("using SQLite store", "path", cfg.Database.SQLitePath)
		return lite, cleanup, nil

	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}
}

// initialTable prefers the last persisted table, then the configured one,
// then the built-in default.
func initialTable(ctx context.Context, st store.Store, cat *catalog.Catalog, cfg *config.Config) strategy.Table {
	candidates := []struct {
		source string
		load   func() (strategy.Table, error)
	}{
		{"store", func() (strategy.Table, error) {
			t, err := st.LatestStrategyTable(ctx)
			return strategy.Table(t), err
		}},
		{"config", func() (strategy.Table, error) {
			if len(cfg.Strategies) == 0 {
				return nil, store.ErrNotFound
			}
			return strategy.Table(cfg.Strategies), nil
		}},
	}
	for _, c := range candidates {
		t, err := c.load()
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Error("load strategy table", "source", c.source, "err", err)
			continue
		}
		if err := strategy.Validate(t, cat); err != nil {
			slog.Warn("ignoring invalid strategy table", "source", c.source, "err", err)
			continue
		}
		slog.Info("strategy table loaded", "source", c.source, "strategies", len(t))
		return t
	}
	slog.Info("using default strategy table")
	return strategy.DefaultTable()
}
