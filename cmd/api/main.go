package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/slideflow/internal/api"
	"github.com/dunamismax/slideflow/internal/config"
	"github.com/dunamismax/slideflow/internal/queue"
	"github.com/dunamismax/slideflow/internal/ratelimit"
	"github.com/dunamismax/slideflow/internal/storage"
	"github.com/dunamismax/slideflow/internal/store"
	"github.com/dunamismax/slideflow/internal/telemetry"
	"github.com/dunamismax/slideflow/internal/token"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "slideflow-api",
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

	assets := newAssetStore(ctx, cfg.Storage, logger)

	jobStore, albums, closeDB := newStores(cfg.Database, logger)
	defer closeDB()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Worker.RenderTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	tokens, err := token.NewService(cfg.Auth.Secret, cfg.Auth.PlayTokenTTL)
	if err != nil {
		logger.Fatalf("token service setup failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("redis client close error: %v", err)
		}
	}()

	limiter, err := ratelimit.NewTokenBucket(redisClient, cfg.API.RateLimitBurst, cfg.API.RateLimitWindow, "")
	if err != nil {
		logger.Fatalf("rate limiter setup failed: %v", err)
	}

	app := api.NewServer(logger, api.Deps{
		Queue:         queueClient,
		Jobs:          jobStore,
		Albums:        albums,
		Storage:       assets,
		Tokens:        tokens,
		RateLimiter:   limiter,
		PublicBaseURL: strings.TrimRight(cfg.API.PublicBaseURL, "/"),
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
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

// newStores opens postgres when a DSN is configured, and falls back to the
// in-process stores for single-binary development. The memory album directory
// starts empty; with no DSN, albums come from whatever seeds it in-process.
func newStores(cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, store.AlbumDirectory, func()) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return store.NewMemoryJobStore(), store.NewMemoryAlbumDirectory(), func() {}
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
	return pg, pg, closeDB
}
