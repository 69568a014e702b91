package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/modhost/internal/audit"
	"github.com/darkden-lab/modhost/internal/auth"
	"github.com/darkden-lab/modhost/internal/config"
	"github.com/darkden-lab/modhost/internal/db"
	"github.com/darkden-lab/modhost/internal/discovery"
	"github.com/darkden-lab/modhost/internal/events"
	"github.com/darkden-lab/modhost/internal/gate"
	"github.com/darkden-lab/modhost/internal/loader"
	"github.com/darkden-lab/modhost/internal/metrics"
	mw "github.com/darkden-lab/modhost/internal/middleware"
	"github.com/darkden-lab/modhost/internal/registry"
	"github.com/darkden-lab/modhost/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	var (
		gateStore  gate.Store           = store.Unavailable{}
		enablement discovery.Enablement = store.Unavailable{}
		auditW     audit.Writer
		syncOpts   = []discovery.SyncerOption{discovery.WithSyncLogger(logger)}
	)
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("database connection failed, continuing without DB; module access is denied", "error", err)
	} else {
		defer database.Close()
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logger.Warn("migrations failed", "error", err)
		}
		pg := store.NewPostgres(database.Pool)
		gateStore = pg
		enablement = pg
		auditW = audit.NewStore(database.Pool)
		syncOpts = append(syncOpts, discovery.WithModuleSource(pg), discovery.WithModuleWriter(pg))
	}

	// Module events
	broker, err := events.NewBroker(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaTopicPrefix, logger)
	if err != nil {
		logger.Warn("event broker setup failed, using in-memory broker", "error", err)
		broker = events.NewInMemoryBroker()
	}
	defer broker.Close()
	syncOpts = append(syncOpts, discovery.WithBroker(broker))
	if unsubscribe, err := broker.Subscribe(events.TopicModuleDiscovery, func(e events.Event) {
		logger.Debug("module event", "action", e.Action, "module", e.Module)
	}); err != nil {
		logger.Warn("module event subscription failed", "error", err)
	} else {
		defer unsubscribe()
	}

	// Modules
	modLoader, err := loader.New(cfg.ModulesPath,
		loader.WithWorkers(cfg.DiscoveryWorkers),
		loader.WithLogger(logger.With("component", "loader")))
	if err != nil {
		logger.Error("module loader setup failed", "error", err)
		os.Exit(1)
	}
	modRegistry := registry.New(logger.With("component", "registry"))
	promMetrics := metrics.New()
	syncOpts = append(syncOpts, discovery.WithAfterSync(func(res discovery.SyncResult) {
		promMetrics.ObserveCatalog(modLoader.Stats(), len(res.Registered)+len(res.Fallbacks))
	}))
	syncer := discovery.NewSyncer(modRegistry, modLoader, syncOpts...)
	syncer.Rescan(ctx)

	if cfg.ModulesWatch {
		watcher, err := loader.NewWatcher(modLoader, cfg.WatchDebounce, func(map[string]loader.Result) {
			syncer.Sync(ctx)
		})
		if err != nil {
			logger.Warn("module watcher unavailable", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("module watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	recorder := audit.NewRecorder(auditW, broker, logger.With("component", "audit"))
	policy := gate.Policy{ForcedPermissions: cfg.ForcedPermissions}
	modGate := promMetrics.InstrumentGate(gate.New(gateStore, recorder, policy, logger.With("component", "gate")))

	// Router
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	r := mux.NewRouter()
	r.Use(mw.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, ctx.Done()))
	r.Use(audit.RequestInfoMiddleware)

	r.HandleFunc("/healthz", healthzHandler).Methods("GET")
	r.Handle("/metrics", promMetrics.Handler()).Methods("GET")

	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(jwtService))
	discovery.NewHandlers(modGate, modRegistry, modLoader, syncer, enablement, logger.With("component", "discovery")).
		RegisterRoutes(protected)

	// CORS wraps the router so preflight requests never reach mux.
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        mw.CORS(cfg.AllowedOrigins)(r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "modules", cfg.ModulesPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
