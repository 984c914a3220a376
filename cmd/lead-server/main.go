// cmd/lead-server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow/internal/api"
	"leadflow/internal/common/camunda"
	"leadflow/internal/common/config"
	"leadflow/internal/common/database"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/observability"
	"leadflow/internal/common/retry"
	"leadflow/internal/feed"
	"leadflow/internal/gateway"
	"leadflow/internal/intake"
	"leadflow/internal/notify"
	"leadflow/internal/search"
	"leadflow/internal/store"

	createlead "leadflow/internal/workers/lead/create-lead-record"
	updatestatus "leadflow/internal/workers/lead/update-lead-status"

	"go.uber.org/zap"
)

// Startup connections get more patience than per-request store retries.
var startupPolicy = retry.Policy{
	MaxRetries:   15,
	InitialDelay: 2 * time.Second,
	MaxDelay:     30 * time.Second,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting lead server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("storeDriver", cfg.Store.Driver),
		zap.String("feedBus", cfg.Feed.Bus),
	)

	loc, err := time.LoadLocation(cfg.App.TimeZone)
	if err != nil {
		zapLog.Fatal("invalid time zone", zap.Error(err))
	}

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.ReadinessCheck{}

	// --- Record store ---
	var records store.Store
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		records = store.NewMemoryStore()
		zapLog.Warn("using in-memory store; records are lost on restart")
	default:
		var pg *database.PostgresClient
		err = retry.WithBackoff(ctx, func(ctx context.Context) error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				pg.Close()
				return err
			}
			return nil
		}, startupPolicy, log, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		if err := pg.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("schema setup failed", zap.Error(err))
		}
		zapLog.Info("PostgreSQL connected successfully")

		records = store.NewPostgresStore(pg.GetDB(), cfg.Store, log)
		checks["postgres"] = pg.Ping
	}

	// --- Change bus ---
	var bus feed.Bus
	switch cfg.Feed.Bus {
	case config.FeedBusRedis:
		var rdb *database.RedisClient
		err = retry.WithBackoff(ctx, func(ctx context.Context) error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return retry.Permanent(err)
			}
			if err := rdb.Ping(ctx); err != nil {
				rdb.Close()
				return err
			}
			return nil
		}, startupPolicy, log, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")

		bus = feed.NewRedisBus(rdb.Client(), cfg.Feed.Channel, log)
		checks["redis"] = rdb.Ping
	default:
		bus = feed.NewLocalBus()
	}

	records = store.NewNotifying(records, bus, log)

	// --- Live feed ---
	hub := feed.NewHub(records, bus, feed.Config{
		ResyncDelay: config.GetDuration(cfg.Feed.ResyncDelay),
	}, log)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	// --- Operator notifications ---
	var notifier intake.Notifier
	if cfg.Notifications.Enabled() {
		n, err := notify.New(ctx, cfg.Notifications, loc, log)
		if err != nil {
			zapLog.Fatal("notifier setup failed", zap.Error(err))
		}
		notifier = n
		zapLog.Info("operator notifications enabled",
			zap.Bool("email", cfg.Notifications.Email.Enabled),
			zap.Bool("sms", cfg.Notifications.SMS.Enabled),
		)
	}

	validator, err := intake.NewValidator(intake.Config{Variant: cfg.Intake.Variant})
	if err != nil {
		zapLog.Fatal("intake setup failed", zap.Error(err))
	}
	intakeSvc := intake.NewService(validator, records, notifier, log)
	gw := gateway.New(records, obs, log)

	// --- Search mirror ---
	var searcher api.Searcher
	if cfg.Search.Enabled {
		var es *database.ElasticsearchClient
		err = retry.WithBackoff(ctx, func(ctx context.Context) error {
			var err error
			es, err = database.NewElasticsearch(cfg.Search, nil)
			if err != nil {
				return retry.Permanent(err)
			}
			return es.Ping(ctx)
		}, startupPolicy, log, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}

		indexer := search.NewIndexer(es.Client, cfg.Search.Index, loc, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("search index setup failed", zap.Error(err))
		}
		go func() {
			if err := indexer.Run(ctx, hub); err != nil {
				zapLog.Error("search indexer stopped", zap.Error(err))
			}
		}()
		searcher = indexer
		checks["elasticsearch"] = es.Ping
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Search.Index))
	}

	// --- Zeebe workers ---
	workers := camunda.NewWorkers(log)
	if cfg.Camunda.BrokerAddress != "" {
		zeebe, err := camunda.Connect(ctx, cfg.Camunda, startupPolicy, log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")

		createCfg := config.GetWorkerConfig(cfg, createlead.TaskType)
		createHandler := createlead.NewHandler(createlead.LoadConfig(createCfg), intakeSvc, log)
		workers.Start(zeebe.GetClient(), createlead.TaskType, createCfg, createHandler.Handle)

		updateCfg := config.GetWorkerConfig(cfg, updatestatus.TaskType)
		updateHandler := updatestatus.NewHandler(updatestatus.LoadConfig(updateCfg), gw, log)
		workers.Start(zeebe.GetClient(), updatestatus.TaskType, updateCfg, updateHandler.Handle)

		checks["zeebe"] = zeebe.HealthCheck
		zapLog.Info("workers registered", zap.Int("count", workers.Count()))
	}

	// --- HTTP ---
	server := api.NewServer(api.Deps{
		Intake:   intakeSvc,
		Gateway:  gw,
		Store:    records,
		Feed:     feed.NewWSHandler(hub, loc, cfg.Server.AllowedOrigins, log),
		Search:   searcher,
		Location: loc,
		Checks:   checks,
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	workers.Close()

	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		zapLog.Warn("feed hub did not stop in time")
	}

	zapLog.Info("Lead server stopped gracefully")
}
