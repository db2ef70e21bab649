// Kestrel - Case risk pipeline with a human-feedback model loop.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Model Registry
	reg, err := registry.New(cfg.Registry.Root, logger)
	if err != nil {
		slog.Error("failed to initialize model registry", "error", err)
		os.Exit(1)
	}
	slog.Info("model registry initialized", "root", cfg.Registry.Root)

	// Initialize Routing Engine with the builtin rule set
	router, err := routing.NewEngine()
	if err != nil {
		slog.Error("failed to initialize routing engine", "error", err)
		os.Exit(1)
	}
	if err := loadRoutingRules(ctx, repo, router); err != nil {
		slog.Error("failed to load routing rules", "error", err)
		os.Exit(1)
	}
	slog.Info("routing engine initialized", "rules_count", router.RulesCount())

	// Initialize Pipeline and Feedback Store
	pipe := pipeline.New(cfg.Pipeline, repo, cacheImpl, busImpl, reg, router, logger)
	store := feedback.NewStore(repo, busImpl, logger)
	slog.Info("pipeline initialized",
		"threshold", cfg.Pipeline.EscalationThreshold,
		"artifact_dir", cfg.Pipeline.ArtifactDir,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipe)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, pipe, reg, router, store, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID scopes routing rules that apply to all tenants.
const GlobalTenantID = "*"

// loadRoutingRules seeds the engine with persisted global rules plus the
// builtin set. Tenant-specific rules are loaded via POST /routing/rules/reload.
func loadRoutingRules(ctx context.Context, repo domain.Repository, engine *routing.Engine) error {
	rules := routing.BuiltinRules()

	dbRules, err := repo.ListRoutingRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list routing rules from database", "error", err)
	} else if len(dbRules) > 0 {
		slog.Info("loading routing rules from database", "count", len(dbRules))
		rules = append(dbRules, rules...)
	}

	return engine.ReloadRules(rules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - case risk pipeline")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches                    - Upload a CSV batch")
	fmt.Println("    POST /batches/{id}/anonymize     - Mask sensitive fields")
	fmt.Println("    POST /batches/{id}/verify        - Run KYC simulation")
	fmt.Println("    POST /batches/{id}/score         - Score and route cases")
	fmt.Println("    GET  /batches/{id}/cases         - List cases in a batch")
	fmt.Println("    GET  /cases/pending              - Cases awaiting review")
	fmt.Println("    PUT  /feedback                   - Save reviewer feedback")
	fmt.Println("    POST /reviews                    - Append to the review log")
	fmt.Println("    POST /train                      - Train a candidate model")
	fmt.Println("    GET  /models                     - List model artifacts")
	fmt.Println("    POST /models/promote             - Promote newest trained model")
	fmt.Println("    GET  /routing/rules              - List routing rules")
	fmt.Println("    POST /routing/rules/reload       - Hot-reload routing rules")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println()
}
