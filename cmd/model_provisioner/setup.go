package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/model_provisioner/internal/config"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/provider"
	"github.com/italolelis/model_provisioner/internal/telemetry"
	"github.com/italolelis/model_provisioner/internal/transfer"
	slogmulti "github.com/samber/slog-multi"
)

const shutdownTimeout = 5 * time.Second

// setupLogger builds the JSON logger. The run command logs to stdout and
// appends to the provisioning log file; the others log to stderr so their
// tables stay readable on stdout.
func setupLogger(cfg *config.Config, toFile bool) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	closeFn := func() error { return nil }

	if !toFile {
		return slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stderr, opts))), closeFn, nil
	}

	handlers := []slog.Handler{slog.NewJSONHandler(os.Stdout, opts)}

	var fileErr error

	if cfg.ProvisioningLog != "" {
		f, err := openLogFile(cfg.ProvisioningLog)
		if err != nil {
			fileErr = err
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
			closeFn = f.Close
		}
	}

	return slog.New(logctx.NewTraceHandler(slogmulti.Fanout(handlers...))), closeFn, fileErr
}

// withExportedLogs also ships the logger's records over OTLP when telemetry
// exports logs.
func withExportedLogs(logger *slog.Logger, tel *telemetry.Telemetry, attrs ...slog.Attr) *slog.Logger {
	h := tel.LogHandler("model_provisioner")
	if h == nil {
		return logger
	}

	return slog.New(slogmulti.Fanout(logger.Handler(), h.WithAttrs(attrs)))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return f, nil
}

func setupTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	return telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "model_provisioner",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
}

// newHTTPClient returns the client shared by validation, resolution and
// transfers. There is no overall timeout: bodies can be many gigabytes, each
// phase bounds its own wait.
func newHTTPClient(tel *telemetry.Telemetry) *http.Client {
	return &http.Client{Transport: tel.Transport(http.DefaultTransport)}
}

func newValidator(client *http.Client, cfg *config.Config) *provider.Validator {
	tokens := make(map[transfer.Kind]string)

	for _, kind := range transfer.Kinds {
		if token := cfg.Token(kind); token != "" {
			tokens[kind] = token
		}
	}

	return provider.NewValidator(client, tokens, map[transfer.Kind]string{
		transfer.KindHub:      cfg.Provider.HubIdentityURL,
		transfer.KindRegistry: cfg.Provider.RegistryIdentityURL,
	})
}

// loadRequests merges the defaults file with the per-provider overrides and
// parses them. Relative destinations are placed under the workspace.
func loadRequests(ctx context.Context, cfg *config.Config) (map[transfer.Kind][]transfer.Request, error) {
	logger := logctx.LoggerFromContext(ctx)

	defaults, err := cfg.Defaults()
	if err != nil {
		return nil, err
	}

	requests := make(map[transfer.Kind][]transfer.Request, len(transfer.Kinds))

	for _, kind := range transfer.Kinds {
		entries := transfer.Merge(defaults[kind], cfg.Override(kind))

		reqs, skipped := transfer.ParseAll(ctx, kind, entries)
		for i := range reqs {
			reqs[i].Destination = inWorkspace(cfg.Workspace, reqs[i].Destination)
		}

		requests[kind] = reqs

		logger.Info("download entries loaded",
			"kind", kind.String(),
			"source_env", config.OverrideEnv(kind),
			"entries", len(reqs),
			"skipped", skipped,
		)
	}

	return requests, nil
}

func inWorkspace(workspace, destination string) string {
	if workspace == "" || filepath.IsAbs(destination) {
		return destination
	}

	joined := filepath.Join(workspace, destination)

	if strings.HasSuffix(destination, "/") || strings.HasSuffix(destination, string(os.PathSeparator)) {
		joined += string(os.PathSeparator)
	}

	return joined
}

// startMetricsServer serves /metrics and /healthz until ctx is done. It
// returns a no-op shutdown when no address is configured.
func startMetricsServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) func(context.Context) error {
	if cfg.Telemetry.MetricsAddress == "" || !tel.Enabled() {
		return func(context.Context) error { return nil }
	}

	logger := logctx.LoggerFromContext(ctx)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              cfg.Telemetry.MetricsAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("serving metrics", "address", server.Addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return server.Shutdown
}
