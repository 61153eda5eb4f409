package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ingest/internal/blob"
	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/database"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage_backend", cfg.Storage.Backend,
		"batch_size", cfg.Ingest.BatchSize,
		"workers", cfg.Ingest.Workers,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	blobs, err := blob.New(ctx, blob.Config{
		Backend:  cfg.Storage.Backend,
		LocalDir: cfg.Storage.LocalDir,
		Bucket:   cfg.Storage.Bucket,
		Prefix:   cfg.Storage.Prefix,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
	})
	if err != nil {
		slog.Error("failed to open blob store", "error", err)
		os.Exit(1)
	}
	if c, ok := blobs.(io.Closer); ok {
		defer c.Close()
	}

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service, err := core.NewService(store, blobs, core.ServiceConfig{
		UploadDir:            cfg.Upload.TempDir,
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		MaxUploadWait:        cfg.Upload.MaxWaitTime,
		HeaderTimeout:        cfg.Upload.HeaderTimeout,
		Workers:              cfg.Ingest.Workers,
		QueueSize:            cfg.Ingest.QueueSize,
		ProgressInterval:     cfg.Ingest.ProgressInterval,
		Writer: core.BatchWriterConfig{
			MaxRetries:  cfg.Ingest.MaxRetries,
			BaseBackoff: cfg.Ingest.RetryBackoff,
			MaxBackoff:  cfg.Ingest.MaxBackoff,
		},
		Pipeline: core.PipelineConfig{
			BatchSize:          cfg.Ingest.BatchSize,
			HeaderScanLines:    cfg.Ingest.HeaderScanLines,
			HeaderPreviewBytes: cfg.Ingest.HeaderPreviewBytes,
			RejectLogLimit:     cfg.Ingest.RejectLogLimit,
			Transform: core.TransformOptions{
				RequireName:  cfg.Ingest.RequireName,
				FallbackName: cfg.Ingest.FallbackName,
			},
		},
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	service.Start(jobCtx)

	go service.StartStaleUploadSweeper(jobCtx, core.SweepConfig{
		StaleAfter:    cfg.Upload.StaleAfter,
		CheckInterval: cfg.Upload.SweepInterval,
	})

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active uploads to complete (with timeout)
		uploadStatus := service.UploadLimiterStatus()
		if uploadStatus.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", uploadStatus.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Running pipelines stop at their next batch. Their jobs are marked
		// FAILED with the cancellation error and can be resumed.
		cancelJobs()
		if err := service.Wait(shutdownCtx); err != nil {
			slog.Warn("ingestion workers did not stop in time", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openStore connects to PostgreSQL, applying migrations when enabled, or
// returns the in-memory store for DATABASE_URL=memory://.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (core.Store, func(), error) {
	if database.IsMemoryURL(cfg.URL) {
		slog.Warn("using in-memory document store; data is lost on exit")
		return database.NewMemory(), func() {}, nil
	}

	if cfg.Migrate {
		if err := database.Migrate(cfg.URL); err != nil {
			return nil, nil, err
		}
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return database.NewPostgres(pool), pool.Close, nil
}
