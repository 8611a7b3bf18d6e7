package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/driftwatch/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/driftwatch/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/driftwatch/internal/adapter/driving/http"
	"github.com/ericfisherdev/driftwatch/internal/application"
	"github.com/ericfisherdev/driftwatch/internal/config"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"workers", cfg.Workers,
		"sweep_interval", cfg.SweepInterval,
		"strict_transitions", cfg.StrictTransitions,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	var scanStore driven.ScanStore = sqliteadapter.NewScanRepo(db)
	if cfg.StrictTransitions {
		scanStore = application.NewValidatingScanStore(scanStore)
	}
	jobQueue := sqliteadapter.NewJobQueue(db)
	cancelSignal := sqliteadapter.NewCancelSignalRepo(db)
	claimStore := sqliteadapter.NewClaimRepo(db)
	mapper := sqliteadapter.NewMappingRepo(db)
	codeIndex := sqliteadapter.NewCodeIndexRepo(db)
	learning := sqliteadapter.NewLearningRepo(db)
	findingStore := sqliteadapter.NewFindingRepo(db)
	repoStore := sqliteadapter.NewRepoRepo(db)

	// 6. Trigger path: always available so webhooks are recorded even
	// without GitHub credentials.
	triggerSvc := application.NewTriggerService(scanStore, jobQueue, cancelSignal, claimStore, application.TriggerConfig{
		RateLimit:       cfg.RateLimit,
		JobAttempts:     cfg.JobAttempts,
		EnqueueAttempts: cfg.JobAttempts,
		EnqueueBackoff:  cfg.JobBackoff,
		CancelTTL:       cfg.CancelTTL,
	})

	// Background loops use the database, so they must return before it closes.
	var background sync.WaitGroup

	// 7. Workers need a GitHub client to read repository contents.
	if cfg.HasGitHubCredentials() {
		ghClient := githubadapter.NewClient(cfg.GitHubToken)

		processor := application.NewScanProcessor(application.ScanProcessorDeps{
			Scans:    scanStore,
			Signal:   cancelSignal,
			Source:   ghClient,
			Index:    codeIndex,
			Mapper:   mapper,
			Verifier: application.NewDeterministicVerifier(codeIndex),
			Learning: learning,
			Claims:   claimStore,
			Findings: findingStore,
		}, cfg.MaxClaims)

		workerCfg := application.DefaultWorkerConfig()
		workerCfg.Concurrency = cfg.Workers
		workerCfg.PollInterval = cfg.PollInterval
		workerCfg.RetryBackoff = cfg.RetryBackoff

		pool := application.NewWorkerPool(jobQueue, cancelSignal, processor, workerCfg)
		triggerSvc.OnScheduled(pool.Wake)
		background.Go(func() { pool.Start(ctx) })
	} else {
		slog.Warn("no github token configured, scans will queue but not run")
	}

	// 8. Scheduled sweeps (disabled when the interval is zero).
	var sweeper httphandler.Sweeper
	if cfg.SweepInterval > 0 {
		sweepSvc := application.NewSweepService(repoStore, scanStore, jobQueue, triggerSvc, cfg.SweepInterval)
		background.Go(func() { sweepSvc.Start(ctx) })
		sweeper = sweepSvc
	} else {
		slog.Info("scheduled sweeps disabled")
	}

	// 9. Create HTTP handler.
	if cfg.WebhookSecret == "" {
		slog.Warn("no webhook secret configured, webhook signatures are not verified")
	}
	apiHandler := httphandler.NewHandler(triggerSvc, sweeper, scanStore, findingStore, repoStore, cfg.WebhookSecret, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("driftwatch started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// In-flight jobs release themselves on cancellation; wait for their writes.
	background.Wait()

	slog.Info("shutdown complete")
	return nil
}
