package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/slideflow/internal/config"
	"github.com/dunamismax/slideflow/internal/render"
	"github.com/dunamismax/slideflow/internal/storage"
	"github.com/dunamismax/slideflow/internal/store"
	"github.com/dunamismax/slideflow/internal/telemetry"
	"github.com/dunamismax/slideflow/internal/webhook"
	"github.com/dunamismax/slideflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "slideflow-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := storage.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer storage.Shutdown()

	assets := newAssetStore(ctx, cfg.Storage, logger)
	jobStore, closeDB := newJobStore(cfg.Database, logger)
	defer closeDB()

	renderer := render.NewFFmpegRenderer(cfg.Worker.FFmpegBin)
	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Auth.Secret,
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, assets, renderer, webhookClient, jobStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_renders=%d queue=%s redis=%s ffmpeg=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveRenders,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Worker.FFmpegBin,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func newAssetStore(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) storage.Store {
	switch cfg.Driver {
	case "minio":
		s, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			logger.Fatalf("minio storage setup failed: %v", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			logger.Fatalf("minio bucket setup failed: %v", err)
		}
		return s
	default:
		s, err := storage.NewLocalStore(cfg.Root, cfg.PublicURL)
		if err != nil {
			logger.Fatalf("local storage setup failed: %v", err)
		}
		return s
	}
}

func newJobStore(cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, func()) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Printf("no postgres DSN configured, using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pg, err := store.NewPostgresJobStore(openCtx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres setup failed: %v", err)
	}

	closeDB := func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
	return pg, closeDB
}
