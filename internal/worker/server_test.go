package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
	"github.com/dunamismax/slideflow/internal/filtergraph"
	"github.com/dunamismax/slideflow/internal/queue"
	"github.com/dunamismax/slideflow/internal/render"
	"github.com/dunamismax/slideflow/internal/storage"
	"github.com/dunamismax/slideflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
)

type fakeRenderer struct {
	err      error
	programs []filtergraph.Program
	output   []byte
}

func (r *fakeRenderer) Render(_ context.Context, prog filtergraph.Program, outputPath string) (render.Artifact, error) {
	r.programs = append(r.programs, prog)
	if r.err != nil {
		return render.Artifact{}, r.err
	}
	if err := os.WriteFile(outputPath, r.output, 0o644); err != nil {
		return render.Artifact{}, err
	}
	return render.Artifact{
		Path:            outputPath,
		Size:            int64(len(r.output)),
		DurationSeconds: prog.DurationSeconds,
	}, nil
}

type recordedEvent struct {
	endpoint string
	event    string
	payload  any
}

type fakeWebhook struct {
	events []recordedEvent
}

func (w *fakeWebhook) Send(_ context.Context, endpoint, event string, payload any) error {
	w.events = append(w.events, recordedEvent{endpoint: endpoint, event: event, payload: payload})
	return nil
}

type testWorker struct {
	server   *Server
	renderer *fakeRenderer
	webhook  *fakeWebhook
	jobs     *store.MemoryJobStore
	assets   storage.Store
	scratch  string
}

func newTestWorker(t *testing.T) *testWorker {
	t.Helper()

	assets, err := storage.NewLocalStore(t.TempDir(), "http://assets.local")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	w := &testWorker{
		renderer: &fakeRenderer{output: []byte("rendered video bytes")},
		webhook:  &fakeWebhook{},
		jobs:     store.NewMemoryJobStore(),
		assets:   assets,
		scratch:  t.TempDir(),
	}
	w.server = &Server{
		logger:        log.New(io.Discard, "", 0),
		sem:           make(chan struct{}, 1),
		renderer:      w.renderer,
		assets:        assets,
		jobStore:      w.jobs,
		webhookClient: w.webhook,
		scratchDir:    w.scratch,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("slideflow/worker-test"),
	}
	return w
}

// seedSources stores n source blobs and returns ordered image references.
func (w *testWorker) seedSources(t *testing.T, n int) []domain.SourceImage {
	t.Helper()
	images := make([]domain.SourceImage, 0, n)
	for i := 0; i < n; i++ {
		desc, err := w.assets.Put(context.Background(), "images", []byte{byte(i), 0xFF, 0xD8}, "application/octet-stream")
		if err != nil {
			t.Fatalf("Put source %d: %v", i, err)
		}
		images = append(images, domain.SourceImage{
			StorageKey:   desc.Key,
			DisplayOrder: i + 1,
		})
	}
	return images
}

func (w *testWorker) seedJob(t *testing.T, jobID string, images []domain.SourceImage) queue.RenderSlideshowPayload {
	t.Helper()
	now := time.Now().UTC()
	err := w.jobs.Create(context.Background(), domain.RenderJob{
		ID:        jobID,
		AlbumID:   "album-1",
		Status:    domain.JobStatusProcessing,
		Images:    images,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return queue.RenderSlideshowPayload{
		JobID:       jobID,
		AlbumID:     "album-1",
		Images:      images,
		WebhookURL:  "http://hooks.local/render",
		RequestedAt: now,
	}
}

func runTask(t *testing.T, w *testWorker, payload queue.RenderSlideshowPayload) error {
	t.Helper()
	task, err := queue.NewRenderSlideshowTask(payload)
	if err != nil {
		t.Fatalf("NewRenderSlideshowTask: %v", err)
	}
	return w.server.handleRenderSlideshow(context.Background(), task)
}

func TestRenderTaskCompletesJob(t *testing.T) {
	w := newTestWorker(t)
	images := w.seedSources(t, 3)
	payload := w.seedJob(t, "job-1", images)

	if err := runTask(t, w, payload); err != nil {
		t.Fatalf("handleRenderSlideshow: %v", err)
	}

	job, found, err := w.jobs.Get(context.Background(), "job-1")
	if err != nil || !found {
		t.Fatalf("job lookup: found=%v err=%v", found, err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Artifact.DurationSeconds != 6 {
		t.Fatalf("duration = %d, want 6 for 3 images", job.Artifact.DurationSeconds)
	}
	if job.Artifact.Size != int64(len(w.renderer.output)) {
		t.Fatalf("artifact size = %d, want %d", job.Artifact.Size, len(w.renderer.output))
	}

	exists, err := w.assets.Exists(context.Background(), job.Artifact.Path)
	if err != nil || !exists {
		t.Fatalf("artifact not stored at %q: exists=%v err=%v", job.Artifact.Path, exists, err)
	}

	if len(w.renderer.programs) != 1 {
		t.Fatalf("renderer invoked %d times, want 1", len(w.renderer.programs))
	}
	if got := len(w.renderer.programs[0].Inputs); got != 3 {
		t.Fatalf("program inputs = %d, want 3", got)
	}

	entries, err := os.ReadDir(w.scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %d entries left", len(entries))
	}

	if len(w.webhook.events) != 1 || w.webhook.events[0].event != "job.completed" {
		t.Fatalf("webhook events = %+v, want one job.completed", w.webhook.events)
	}
}

func TestRenderTaskFailureTerminatesJob(t *testing.T) {
	w := newTestWorker(t)
	w.renderer.err = errors.New("encoder exploded")
	images := w.seedSources(t, 1)
	payload := w.seedJob(t, "job-1", images)

	err := runTask(t, w, payload)
	if err == nil {
		t.Fatalf("expected error from failed render")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("error does not skip retry: %v", err)
	}

	job, _, _ := w.jobs.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if !job.Artifact.Empty() {
		t.Fatalf("failed job carries an artifact: %+v", job.Artifact)
	}

	if len(w.webhook.events) != 1 || w.webhook.events[0].event != "job.failed" {
		t.Fatalf("webhook events = %+v, want one job.failed", w.webhook.events)
	}
}

func TestRenderTaskMissingSourceFailsJob(t *testing.T) {
	w := newTestWorker(t)
	images := []domain.SourceImage{{StorageKey: "images/vanished.jpg", DisplayOrder: 1}}
	payload := w.seedJob(t, "job-1", images)

	err := runTask(t, w, payload)
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip-retry error, got %v", err)
	}
	if len(w.renderer.programs) != 0 {
		t.Fatalf("renderer invoked despite missing source")
	}

	job, _, _ := w.jobs.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
}

func TestRenderTaskMalformedPayload(t *testing.T) {
	w := newTestWorker(t)

	task := asynq.NewTask(queue.TypeRenderSlideshow, []byte("not json"))
	err := w.server.handleRenderSlideshow(context.Background(), task)
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip-retry error for malformed payload, got %v", err)
	}
}

// deadlineRespectingJobStore refuses writes once the context has expired,
// the way database/sql's ExecContext does.
type deadlineRespectingJobStore struct {
	*store.MemoryJobStore
}

func (s *deadlineRespectingJobStore) MarkCompleted(ctx context.Context, id string, artifact domain.Artifact) (domain.RenderJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.RenderJob{}, err
	}
	return s.MemoryJobStore.MarkCompleted(ctx, id, artifact)
}

func (s *deadlineRespectingJobStore) MarkFailed(ctx context.Context, id string) (domain.RenderJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.RenderJob{}, err
	}
	return s.MemoryJobStore.MarkFailed(ctx, id)
}

// hangingRenderer blocks until the context is killed, like a stuck encoder
// under exec.CommandContext.
type hangingRenderer struct{}

func (hangingRenderer) Render(ctx context.Context, _ filtergraph.Program, _ string) (render.Artifact, error) {
	<-ctx.Done()
	return render.Artifact{}, fmt.Errorf("%w: %v", domain.ErrRenderFailure, ctx.Err())
}

func TestRenderTimeoutStillFailsJob(t *testing.T) {
	w := newTestWorker(t)
	w.server.renderer = hangingRenderer{}
	w.server.jobStore = &deadlineRespectingJobStore{MemoryJobStore: w.jobs}

	images := w.seedSources(t, 1)
	payload := w.seedJob(t, "job-1", images)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	task, err := queue.NewRenderSlideshowTask(payload)
	if err != nil {
		t.Fatalf("NewRenderSlideshowTask: %v", err)
	}
	err = w.server.handleRenderSlideshow(ctx, task)
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip-retry error after render timeout, got %v", err)
	}

	job, _, _ := w.jobs.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q after render timeout, want failed", job.Status)
	}

	if len(w.webhook.events) != 1 || w.webhook.events[0].event != "job.failed" {
		t.Fatalf("webhook events = %+v, want one job.failed", w.webhook.events)
	}
}

func TestRenderTaskTerminalJobStaysTerminal(t *testing.T) {
	w := newTestWorker(t)
	images := w.seedSources(t, 1)
	payload := w.seedJob(t, "job-1", images)

	if _, err := w.jobs.MarkFailed(context.Background(), "job-1"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	err := runTask(t, w, payload)
	if err == nil {
		t.Fatalf("expected error completing a terminal job")
	}

	job, _, _ := w.jobs.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("terminal status changed to %q", job.Status)
	}
}
