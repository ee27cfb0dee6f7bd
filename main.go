package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"personarelay/internal/api"
	"personarelay/internal/config"
	"personarelay/internal/gateway"
	"personarelay/internal/id"
	"personarelay/internal/logger"
	"personarelay/internal/models"
	"personarelay/internal/prompt"
	"personarelay/internal/redis"
	"personarelay/internal/relay"
	"personarelay/internal/service/ai"
	"personarelay/internal/session"
	"personarelay/internal/storage"
	"personarelay/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("PERSONARELAY_CONFIG"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}
	basic := cfg.BasicConfig
	slog.InfoContext(ctx, "relay starting", "env", basic.Environment, "history", basic.HistoryBackend, "provider", basic.Provider)

	history, closeHistory, err := openHistory(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open history store", "error", err)
		os.Exit(1)
	}
	defer closeHistory()

	profiles := storage.NewProfileDirectory(basic.ProfilesDir)
	if err := profiles.Load(); err != nil {
		slog.ErrorContext(ctx, "failed to load character profiles", "error", err)
		os.Exit(1)
	}

	hub := gateway.NewHub(basic.BroadcastAll)
	var (
		store  session.Store     = session.NewMemoryStore()
		events relay.Broadcaster = hub
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		bus := redis.NewEventBus(rdb)
		listenCtx, stopListening := context.WithCancel(ctx)
		defer stopListening()
		// every instance delivers what any instance publishes
		if err := bus.Listen(listenCtx, func(ev models.Event) {
			if err := hub.Deliver(ev); err != nil {
				slog.Warn("deliver event failed", "event", ev.Name, "error", err)
			}
		}); err != nil {
			slog.ErrorContext(ctx, "failed to subscribe to relay events", "error", err)
			os.Exit(1)
		}
		store = redis.NewActiveStore(rdb)
		events = bus
		slog.InfoContext(ctx, "redis connected", "host", cfg.Redis.Host)
	}

	completer, err := ai.NewCompleter(ctx, basic.Provider, cfg.Providers[basic.Provider])
	if err != nil {
		// the relay still classifies and records lines without a model
		slog.WarnContext(ctx, "completion backend unavailable", "provider", basic.Provider, "error", err)
		completer = nil
	}
	generator := ai.NewGenerator(profiles, history, prompt.NewComposer(basic.ProtectedSubstring), completer)

	pipeline := relay.New(session.NewResolver(store, history), profiles, history, generator, events, relay.Options{AutoReply: basic.AutoReply})
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  basic.MinWorkers,
		MaxWorkers:  basic.MaxWorkers,
		QueueSize:   basic.QueueSize,
		IdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Second,
		JobTimeout:  time.Duration(basic.ReplyTimeout) * time.Second,
	}, pipeline)
	pipeline.SetScheduler(dispatcher)
	manager := worker.NewManager(pipeline, basic.BatchQueueSize, 0)

	handler := api.NewHandler(pipeline, manager, dispatcher, hub)
	hub.SetCommandHandler(handler.HandleCommand)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Recovery(), api.RequestLogger())
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "http server starting", "addr", basic.ServerAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	hub.Close()
	manager.Shutdown()
	dispatcher.Stop()
	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// openHistory builds the configured history backend and its cleanup func.
func openHistory(cfg *config.Config) (storage.HistoryStore, func(), error) {
	backend := cfg.BasicConfig.HistoryBackend
	if backend == "file" {
		history, err := storage.NewFileHistory(cfg.BasicConfig.HistoryDir)
		return history, func() {}, err
	}

	db, err := storage.Open(backend, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.Migrate(db, backend); err != nil {
		db.Close()
		return nil, nil, err
	}
	return storage.NewSQLHistory(db, backend), func() { db.Close() }, nil
}
