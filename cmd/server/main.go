package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harmonia-erp/pulse/internal/action"
	"github.com/harmonia-erp/pulse/internal/api"
	"github.com/harmonia-erp/pulse/internal/automation"
	"github.com/harmonia-erp/pulse/internal/config"
	"github.com/harmonia-erp/pulse/internal/stream"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "", "Path to service YAML config (defaults apply when empty)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	streams := stream.StreamNames{
		Domain:    cfg.Streams.Domain,
		Technical: cfg.Streams.Technical,
		Failed:    cfg.Streams.Failed,
	}

	// ── Broker client, publisher, consumer ────────────────────────────────────
	client := stream.NewClient(stream.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	defer client.Close()

	publisher := stream.NewPublisher(client, streams, logger)

	initialDelay, capDelay := cfg.Retry.Backoff()
	backoff := stream.Backoff{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Initial:     initialDelay,
		Cap:         capDelay,
	}
	consumer := stream.NewConsumer(client, streams, backoff, logger)

	// ── Action registry ───────────────────────────────────────────────────────
	registry := action.NewRegistry()
	registry.Register(action.NewNotification(nil))
	registry.Register(action.NewActivity(nil))
	registry.Register(action.NewWebhook())

	// ── Rules, engine, trigger binding ────────────────────────────────────────
	rules, err := automation.NewFileRuleSource(cfg.Automation.RulesFile, registry, logger)
	if err != nil {
		slog.Error("failed to load rules", "err", err)
		os.Exit(1)
	}
	slog.Info("rules loaded", "path", cfg.Automation.RulesFile, "count", len(rules.Rules()))

	executions := automation.NewMemoryStore()
	runner := action.NewRunner(registry, logger)
	engine := automation.NewEngine(rules, executions, runner, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := automation.NewTriggerHandler(consumer, engine, cfg.Automation.ConsumerName, logger)
	if err := trigger.Start(ctx, cfg.Automation.EventTypes); err != nil {
		slog.Error("failed to start trigger handler", "err", err)
		os.Exit(1)
	}

	// ── Scheduler for time-triggered rules ────────────────────────────────────
	scheduler := automation.NewScheduler(engine, logger)
	scheduler.Sync(ctx, rules.Rules())
	rules.OnChange(func(rs []*automation.Rule) { scheduler.Sync(ctx, rs) })

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	stopWatch, err := rules.Watch()
	if err != nil {
		slog.Warn("rule watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(client, publisher, engine, rules, streams)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	scheduler.Stop()
	trigger.Stop()
	cancel()
	slog.Info("goodbye")
}
