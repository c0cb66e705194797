package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
	"github.com/dunamismax/slideflow/internal/id"
	"github.com/dunamismax/slideflow/internal/queue"
	"github.com/dunamismax/slideflow/internal/storage"
	"github.com/dunamismax/slideflow/internal/store"
	"github.com/dunamismax/slideflow/internal/token"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type queueEnqueuer interface {
	EnqueueRenderSlideshow(ctx context.Context, payload queue.RenderSlideshowPayload) (*asynq.TaskInfo, error)
}

// Deps are the collaborators the API needs. Lifecycle (open/close) belongs to
// the process entry point; the server only borrows them.
type Deps struct {
	Queue         queueEnqueuer
	Jobs          store.JobStore
	Albums        store.AlbumDirectory
	Storage       storage.Store
	Tokens        *token.Service
	RateLimiter   RateLimiter
	PublicBaseURL string
}

type Server struct {
	logger        *log.Logger
	queueClient   queueEnqueuer
	jobStore      store.JobStore
	albums        store.AlbumDirectory
	storage       storage.Store
	tokens        *token.Service
	rateLimiter   RateLimiter
	publicBaseURL string
	metrics       *metrics
	tracer        trace.Tracer
	mux           *http.ServeMux
}

func NewServer(logger *log.Logger, deps Deps) *Server {
	s := &Server{
		logger:        logger,
		queueClient:   deps.Queue,
		jobStore:      deps.Jobs,
		albums:        deps.Albums,
		storage:       deps.Storage,
		tokens:        deps.Tokens,
		rateLimiter:   deps.RateLimiter,
		publicBaseURL: deps.PublicBaseURL,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("slideflow/api"),
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.Handle("POST /v1/slideshows", s.withAuth(http.HandlerFunc(s.handleSubmit)))
	s.mux.Handle("GET /v1/slideshows/{id}", s.withAuth(http.HandlerFunc(s.handleGetStatus)))
	s.mux.Handle("GET /v1/albums/{id}/slideshows", s.withAuth(http.HandlerFunc(s.handleListByAlbum)))
	s.mux.Handle("POST /v1/slideshows/{id}/play-token", s.withAuth(http.HandlerFunc(s.handlePlayToken)))
	s.mux.HandleFunc("GET /v1/slideshows/{id}/stream", s.handleStream)
	s.mux.HandleFunc("OPTIONS /v1/slideshows/{id}/stream", s.handleStreamPreflight)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit validates synchronously, creates the job record in processing,
// and schedules the render. The response never waits on the render itself.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req domain.SubmitRenderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	owned, err := s.albums.AlbumOwned(r.Context(), req.AlbumID, userID)
	if err != nil {
		s.logger.Printf("album ownership check failed album_id=%s err=%v", req.AlbumID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load album"})
		return
	}
	if !owned {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "album not found"})
		return
	}

	images, err := s.albums.ListAlbumImages(r.Context(), req.AlbumID)
	if err != nil {
		s.logger.Printf("list album images failed album_id=%s err=%v", req.AlbumID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load album images"})
		return
	}
	if len(images) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "album has no images"})
		return
	}

	now := time.Now().UTC()
	job := domain.RenderJob{
		ID:         id.New(),
		AlbumID:    req.AlbumID,
		Status:     domain.JobStatusProcessing,
		Images:     images,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	payload := queue.RenderSlideshowPayload{
		JobID:       job.ID,
		AlbumID:     job.AlbumID,
		Images:      job.Images,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	}
	if _, err := s.queueClient.EnqueueRenderSlideshow(r.Context(), payload); err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		// The record exists but nothing will ever render it; close it out.
		if _, failErr := s.jobStore.MarkFailed(r.Context(), job.ID); failErr != nil {
			s.logger.Printf("mark failed after enqueue error job_id=%s err=%v", job.ID, failErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to schedule render"})
		return
	}

	s.metrics.jobsSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job, s.storage))
}

func (s *Server) handleListByAlbum(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	albumID := r.PathValue("id")

	owned, err := s.albums.AlbumOwned(r.Context(), albumID, userID)
	if err != nil {
		s.logger.Printf("album ownership check failed album_id=%s err=%v", albumID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load album"})
		return
	}
	if !owned {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "album not found"})
		return
	}

	jobs, err := s.jobStore.ListByAlbum(r.Context(), albumID)
	if err != nil {
		s.logger.Printf("list jobs failed album_id=%s err=%v", albumID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list slideshows"})
		return
	}

	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job, s.storage))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slideshows": out})
}

// handlePlayToken mints the short-lived URL-embedded token for streaming.
// Range-capable clients cannot attach an Authorization header, so the token
// rides in the query string instead.
func (s *Server) handlePlayToken(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadOwnedJob(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "slideshow is not ready for playback"})
		return
	}

	userID := userIDFromContext(r.Context())
	tok, expiresIn, err := s.tokens.Issue(job.ID, userID)
	if err != nil {
		s.logger.Printf("issue play token failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue playback token"})
		return
	}

	s.metrics.playTokensIssued.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        fmt.Sprintf("%s/v1/slideshows/%s/stream?token=%s", s.publicBaseURL, job.ID, url.QueryEscape(tok)),
		"expires_in": expiresIn,
	})
}

// loadOwnedJob resolves a job and enforces that the caller owns its album.
// Unknown and unowned jobs are indistinguishable to the caller.
func (s *Server) loadOwnedJob(w http.ResponseWriter, r *http.Request, jobID string) (domain.RenderJob, bool) {
	userID := userIDFromContext(r.Context())

	job, found, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.RenderJob{}, false
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "slideshow not found"})
		return domain.RenderJob{}, false
	}

	owned, err := s.albums.AlbumOwned(r.Context(), job.AlbumID, userID)
	if err != nil {
		s.logger.Printf("album ownership check failed album_id=%s err=%v", job.AlbumID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load album"})
		return domain.RenderJob{}, false
	}
	if !owned {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "slideshow not found"})
		return domain.RenderJob{}, false
	}
	return job, true
}

func jobResponse(job domain.RenderJob, assets storage.Store) map[string]any {
	resp := map[string]any{
		"job_id":     job.ID,
		"album_id":   job.AlbumID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Status == domain.JobStatusCompleted && !job.Artifact.Empty() {
		artifact := map[string]any{
			"filename":         job.Artifact.Filename,
			"size":             job.Artifact.Size,
			"duration_seconds": job.Artifact.DurationSeconds,
		}
		if assets != nil {
			artifact["url"] = assets.Locate(job.Artifact.Path)
		}
		resp["artifact"] = artifact
	}
	return resp
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
