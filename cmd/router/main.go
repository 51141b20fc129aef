package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/af-corp/relay-router/internal/auth"
	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/clock"
	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/gateway"
	"github.com/af-corp/relay-router/internal/ratelimit"
	"github.com/af-corp/relay-router/internal/router"
	"github.com/af-corp/relay-router/internal/router/adapters"
	"github.com/af-corp/relay-router/internal/store"
	"github.com/af-corp/relay-router/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(bootLogger)

	// Load configuration
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Telemetry.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Backend catalog, rebuilt on config reload. The dynamic stores survive
	// reloads because they are keyed by backend ID.
	reg, err := catalog.FromConfig(loader.Backends())
	if err != nil {
		logger.Error("failed to build backend catalog", "error", err)
		os.Exit(1)
	}
	var regMu sync.RWMutex
	registryFn := func() *catalog.Registry {
		regMu.RLock()
		defer regMu.RUnlock()
		return reg
	}

	// Provider adapters
	adapterReg := adapters.BuildFromConfig(loader.Providers())

	loader.OnReload(func() {
		newReg, err := catalog.FromConfig(loader.Backends())
		if err != nil {
			logger.Error("backend catalog reload rejected", "error", err)
			return
		}
		regMu.Lock()
		reg = newReg
		regMu.Unlock()

		newAdapters := adapters.BuildFromConfig(loader.Providers())
		adapterReg.Swap(newAdapters)
		logger.Info("backend catalog reloaded", "backends", newReg.Len())
	})

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (router will start but auth will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (auth cache and inbound rate limiting disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Routing engine, probe loop, metrics
	metrics := telemetry.NewMetrics()
	engine := router.NewEngine(cfg.Routing, registryFn, adapterReg, clock.New(), logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	prober := router.NewProber(cfg.Routing.Health, registryFn, adapterReg, engine.Ledger(), engine.Health(), logger)
	go prober.Run(rootCtx)
	go publishHealthGauge(rootCtx, engine, registryFn, metrics)

	// HTTP surface
	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	requests := store.NewRequestStore(dbPool)
	limiter := ratelimit.NewLimiter(rdb)
	handler := gateway.NewHandler(engine, registryFn, requests, limiter, metrics)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	// Unauthenticated routes
	r.Get("/relay/v1/health", healthHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Use(ratelimit.Middleware(limiter, metrics))
		r.Post("/v1/chat", handler.Chat)
		r.Get("/v1/models", handler.ListModels)
		r.Get("/v1/usage", handler.Usage)
		r.Get("/v1/backends/status", handler.BackendsStatus)
	})

	// Metrics endpoint on its own port
	if cfg.Telemetry.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics server starting", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("router starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("router stopped")
}

// publishHealthGauge mirrors tracked health state into the Prometheus gauge.
func publishHealthGauge(ctx context.Context, engine *router.Engine, registry func() *catalog.Registry, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := engine.HealthSnapshot()
			for _, d := range registry().All() {
				state := 0.0
				switch health[d.ID].State {
				case router.StateDegraded:
					state = 1
				case router.StateUnavailable:
					state = 2
				}
				metrics.SetBackendHealth(d.ID, state)
			}
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
