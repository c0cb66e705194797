// Package worker consumes render tasks from the queue and drives one
// slideshow render per task: fetch the ordered sources, compose the program,
// run the encoder, store the artifact, and close the job out exactly once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dunamismax/slideflow/internal/config"
	"github.com/dunamismax/slideflow/internal/domain"
	"github.com/dunamismax/slideflow/internal/filtergraph"
	"github.com/dunamismax/slideflow/internal/queue"
	"github.com/dunamismax/slideflow/internal/render"
	"github.com/dunamismax/slideflow/internal/storage"
	"github.com/dunamismax/slideflow/internal/store"
	"github.com/dunamismax/slideflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	renderer      render.Renderer
	assets        storage.Store
	jobStore      store.JobStore
	webhookClient webhookSender
	scratchDir    string
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	assets storage.Store,
	renderer render.Renderer,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	if assets == nil {
		return nil, fmt.Errorf("asset store is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if jobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if err := os.MkdirAll(workerCfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	// A typed nil must not reach the interface field, Send would be called
	// on a nil receiver.
	var sender webhookSender
	if webhookClient != nil {
		sender = webhookClient
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					logger.Printf("task failed type=%s err=%v", task.Type(), err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveRenders)),
		renderer:      renderer,
		assets:        assets,
		jobStore:      jobStore,
		webhookClient: sender,
		scratchDir:    workerCfg.ScratchDir,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("slideflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderSlideshow, s.handleRenderSlideshow)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleRenderSlideshow is the single task handler. Every exit path returns
// asynq.SkipRetry: a failed render terminates the job, the queue never re-runs
// it.
func (s *Server) handleRenderSlideshow(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseRenderSlideshowPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_slideshow", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.album_id", payload.AlbumID),
		attribute.Int("job.image_count", len(payload.Images)),
	)
	defer span.End()
	defer func() {
		s.metrics.renderDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.rendersTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeRenders.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRenders.Dec()
	}()

	s.logger.Printf("Rendering... job_id=%s album_id=%s images=%d", payload.JobID, payload.AlbumID, len(payload.Images))

	artifact, renderErr := s.renderJob(ctx, payload)

	// A timed-out render arrives here with the task context already expired.
	// The terminal write and the webhook still have to land, so they run
	// detached from the task deadline.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancelFinish()

	if renderErr != nil {
		s.markFailed(finishCtx, payload.JobID)
		span.RecordError(renderErr)
		span.SetStatus(codes.Error, "render failed")
		s.dispatchWebhook(finishCtx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"album_id":     payload.AlbumID,
			"status":       domain.JobStatusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        renderErr.Error(),
		})
		return fmt.Errorf("render slideshow: %v: %w", renderErr, asynq.SkipRetry)
	}

	if _, err := s.jobStore.MarkCompleted(finishCtx, payload.JobID, artifact); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job completion failed")
		return fmt.Errorf("mark job completed: %v: %w", err, asynq.SkipRetry)
	}

	s.logger.Printf("Rendered job_id=%s artifact=%s size=%d duration=%ds",
		payload.JobID, artifact.Path, artifact.Size, artifact.DurationSeconds)
	s.metrics.renderedSecondsTotal.Add(float64(artifact.DurationSeconds))
	s.metrics.artifactBytesTotal.Add(float64(artifact.Size))

	s.dispatchWebhook(finishCtx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"album_id":     payload.AlbumID,
		"status":       domain.JobStatusCompleted,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"artifact": map[string]any{
			"filename":         artifact.Filename,
			"size":             artifact.Size,
			"duration_seconds": artifact.DurationSeconds,
		},
	})

	outcome = domain.JobStatusCompleted
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

// renderJob runs one render end to end in a per-job scratch directory that is
// removed on every exit path.
func (s *Server) renderJob(ctx context.Context, payload queue.RenderSlideshowPayload) (domain.Artifact, error) {
	if len(payload.Images) == 0 {
		return domain.Artifact{}, fmt.Errorf("%w: job has no images", domain.ErrValidation)
	}

	scratch := filepath.Join(s.scratchDir, payload.JobID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create job scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			s.logger.Printf("scratch cleanup failed job_id=%s err=%v", payload.JobID, err)
		}
	}()

	inputs, err := s.materializeSources(ctx, scratch, payload.Images)
	if err != nil {
		return domain.Artifact{}, err
	}

	prog, err := filtergraph.Build(inputs)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("build composition: %w", err)
	}

	outputPath := filepath.Join(scratch, "slideshow-"+payload.JobID+".mp4")
	result, err := s.renderer.Render(ctx, prog, outputPath)
	if err != nil {
		return domain.Artifact{}, err
	}

	out, err := os.Open(result.Path)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("open rendered output: %w", err)
	}
	defer out.Close()

	// Streamed rather than buffered: a multi-minute render is tens of
	// megabytes per in-flight job.
	desc, err := s.assets.PutStream(ctx, "slideshows", out, result.Size, "video/mp4")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("store artifact: %w", err)
	}

	return domain.Artifact{
		Filename:        path.Base(desc.Key),
		Path:            desc.Key,
		Size:            desc.Size,
		DurationSeconds: result.DurationSeconds,
	}, nil
}

// materializeSources copies each stored source into the scratch directory in
// display order. The encoder reads local files only.
func (s *Server) materializeSources(ctx context.Context, scratch string, images []domain.SourceImage) ([]filtergraph.Input, error) {
	inputs := make([]filtergraph.Input, 0, len(images))
	for i, img := range images {
		local := filepath.Join(scratch, fmt.Sprintf("source-%03d%s", i, sourceExt(img.StorageKey)))
		if err := s.copySource(ctx, img.StorageKey, local); err != nil {
			return nil, err
		}
		inputs = append(inputs, filtergraph.Input{
			Path:     local,
			Rotation: img.Rotation,
		})
	}
	return inputs, nil
}

func (s *Server) copySource(ctx context.Context, key, local string) error {
	reader, _, err := s.assets.Open(ctx, key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrMissingSource, key)
		}
		return fmt.Errorf("open source %s: %w", key, err)
	}
	defer reader.Close()

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create scratch file for %s: %w", key, err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		return fmt.Errorf("copy source %s: %w", key, err)
	}
	return f.Close()
}

func sourceExt(key string) string {
	if ext := path.Ext(key); ext != "" {
		return ext
	}
	return ".jpg"
}

func (s *Server) markFailed(ctx context.Context, jobID string) {
	if _, err := s.jobStore.MarkFailed(ctx, jobID); err != nil {
		s.logger.Printf("mark failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderSlideshowPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}
