package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/italolelis/model_provisioner/internal/cleanup"
	"github.com/italolelis/model_provisioner/internal/config"
	"github.com/italolelis/model_provisioner/internal/downloader"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/notifier"
	"github.com/italolelis/model_provisioner/internal/provider"
	"github.com/italolelis/model_provisioner/internal/storage"
	"github.com/italolelis/model_provisioner/internal/storage/sqlite"
	"github.com/italolelis/model_provisioner/internal/telemetry"
	"github.com/italolelis/model_provisioner/internal/transfer"
	"github.com/spf13/cobra"
)

var errBatchesFailed = errors.New("some downloads failed")

func runHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, logErr := setupLogger(cfg, true)
	defer closeLog()

	runID := telemetry.NewRunID()
	logger = logger.With("run_id", runID)

	if logErr != nil {
		logger.Warn("provisioning log unavailable, logging to stdout only", "path", cfg.ProvisioningLog, "err", logErr)
	}

	ctx := logctx.WithLogger(cmd.Context(), logger)

	if err := provision(ctx, cfg, runID); err != nil {
		logger.Error("provisioning failed", "err", err)

		return err
	}

	return nil
}

func provision(ctx context.Context, cfg *config.Config, runID string) error {
	logger := logctx.LoggerFromContext(ctx)

	if _, err := os.Stat(cfg.SkipFlagPath); err == nil {
		logger.Info("skip flag present, provisioning skipped", "flag", cfg.SkipFlagPath)

		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to check skip flag", "flag", cfg.SkipFlagPath, "err", err)
	}

	logger.Info("provisioning starting",
		"version", version,
		"workspace", cfg.Workspace,
		"max_parallel", cfg.MaxParallel,
		"log_level", cfg.LogLevel,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	logger = withExportedLogs(logger, tel, slog.String("run_id", runID))
	ctx = logctx.WithLogger(ctx, logger)

	shutdownMetrics := startMetricsServer(ctx, cfg, tel)

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := shutdownMetrics(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the metrics server", "err", err)
		}

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Ledger
	var repo storage.OutcomeWriteRepository

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer database.Close()

		repo = sqlite.NewInstrumentedOutcomeRepository(database, tel)
	}

	// =========================================================================
	// Validate Tokens
	client := newHTTPClient(tel)
	validator := newValidator(client, cfg)

	for kind, valid := range validator.ValidateAll(ctx) {
		tel.RecordTokenCheck(ctx, kind.String(), valid)
	}

	// =========================================================================
	// Load Entries
	requests, err := loadRequests(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load download entries: %w", err)
	}

	removeStaleTempFiles(ctx, cfg, requests)

	// =========================================================================
	// Start Downloads
	acquirer := downloader.NewAcquirer(client, downloader.Options{
		MaxAttempts:    cfg.RetryMaxAttempts,
		LockTimeout:    cfg.LockTimeout,
		MaxBackoff:     cfg.RetryMaxBackoff,
		RequestTimeout: cfg.RequestTimeout,
	}, tel)

	orchestrator := downloader.NewOrchestrator(
		provider.NewResolver(client, validator),
		acquirer,
		repo,
		tel,
		cfg.MaxParallel,
		runID,
	)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL, Client: client}
	}

	start := time.Now()
	failed := 0

	for _, kind := range transfer.Kinds {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("provisioning interrupted: %w", err)
		}

		batch := orchestrator.RunBatch(ctx, kind, requests[kind])
		if batch.Succeeded {
			continue
		}

		failed++

		if notif != nil {
			if notifyErr := notif.Notify(ctx, "❌ "+notifier.BatchFailureMessage(runID, batch)); notifyErr != nil {
				logger.Error("failed to send notification", "kind", kind.String(), "err", notifyErr)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d provider batches failed", errBatchesFailed, failed, len(transfer.Kinds))
	}

	logger.Info("provisioning complete", "duration", time.Since(start).Round(time.Millisecond).String())

	return nil
}

func removeStaleTempFiles(ctx context.Context, cfg *config.Config, requests map[transfer.Kind][]transfer.Request) {
	if cfg.StaleTempAfter <= 0 {
		return
	}

	var all []transfer.Request
	for _, kind := range transfer.Kinds {
		all = append(all, requests[kind]...)
	}

	removed, err := cleanup.DeleteStaleTempFiles(ctx, all, cfg.StaleTempAfter)
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to remove stale temp files", "err", err)
	}

	if removed > 0 {
		logctx.LoggerFromContext(ctx).Info("removed stale temp files", "count", removed)
	}
}
