package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/fluxrules/ruleengine/internal/action"
	"github.com/fluxrules/ruleengine/internal/config"
	"github.com/fluxrules/ruleengine/internal/conflict"
	"github.com/fluxrules/ruleengine/internal/db"
	"github.com/fluxrules/ruleengine/internal/engine"
	"github.com/fluxrules/ruleengine/internal/httpapi"
	"github.com/fluxrules/ruleengine/internal/ingest"
	"github.com/fluxrules/ruleengine/internal/metrics"
	"github.com/fluxrules/ruleengine/internal/rete"
	"github.com/fluxrules/ruleengine/internal/rule"
	"github.com/fluxrules/ruleengine/internal/rulecache"
	"github.com/fluxrules/ruleengine/internal/scheduler"
	"github.com/fluxrules/ruleengine/internal/stream"
)

const (
	serviceName = "ruleengine"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("starting rule engine", "service", serviceName, "version", version, "environment", cfg.Environment)

	sqlDB, err := db.Connect(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		logger.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}

	repo := rule.NewRepository(sqlDB)

	var remote rulecache.RemoteCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, running with local cache tier only", "err", err)
		} else {
			remote = &rulecache.RedisRemoteCache{Client: client}
		}
	}

	cacheOpts := []rulecache.Option{
		rulecache.WithLocalTTL(cfg.RuleCache.LocalTTL),
		rulecache.WithRemoteTTL(cfg.RuleCache.RemoteTTL),
		rulecache.WithLogger(logger),
	}
	if remote != nil {
		cacheOpts = append(cacheOpts, rulecache.WithRemote(remote))
	}
	ruleCache := rulecache.New(repo, cacheOpts...)

	detector := conflict.NewDetector(repo, logger)
	lifecycle := rule.NewLifecycle(repo, ruleCache, detector, logger)

	reteEngine := rete.NewEngine()
	metricsCollector := metrics.NewCollector()
	hub := stream.NewHub(logger)

	evalEngine := engine.New(ruleCache, reteEngine, hub, metricsCollector, logger)

	dispatcher := action.NewDispatcher(logger)
	dispatcher.Register(action.NewWebhookHandler(logger), cfg.Notification.Webhook.RateLimitPerMin)
	if cfg.Notification.Email.Enabled {
		dispatcher.Register(action.NewEmailHandler(os.Getenv("SENDGRID_API_KEY"), os.Getenv("NOTIFICATIONS_FROM_EMAIL"), "Rule Engine"), cfg.Notification.Email.RateLimitPerMin)
	}
	if cfg.Notification.SMS.Enabled {
		dispatcher.Register(action.NewSMSHandler(os.Getenv("TWILIO_FROM_NUMBER")), cfg.Notification.SMS.RateLimitPerMin)
	}

	sched := scheduler.New(scheduler.Config{
		RuleCacheRefreshCron: cfg.Scheduler.RuleCacheRefreshCron,
		ConflictSweepCron:    cfg.Scheduler.ConflictSweepCron,
		StatsSnapshotCron:    cfg.Scheduler.StatsSnapshotCron,
	}, ruleCache, detector, reteEngine, logger)

	httpHandler := httpapi.NewHandler(logger, repo, lifecycle, detector, evalEngine, hub)
	router := mux.NewRouter()
	httpHandler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler failed to start", "err", err)
			cancel()
			return
		}
		<-ctx.Done()
		sched.Stop()
	}()

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.EventsTopic, evalEngine, logger)
		if err != nil {
			logger.Error("failed to create kafka consumer", "err", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("ingest consumer failed", "err", err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting http server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server gracefully", "err", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("failed to close kafka consumer", "err", err)
		}
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func setupLogging(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.Debug}

	var handler slog.Handler
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", serviceName, "version", version)
}
