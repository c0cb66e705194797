package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
)

func seedJob(t *testing.T, s *MemoryJobStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.Create(context.Background(), domain.RenderJob{
		ID:      id,
		AlbumID: "album-1",
		Status:  domain.JobStatusProcessing,
		Images: []domain.SourceImage{
			{StorageKey: "albums/album-1/image-1.jpg", DisplayOrder: 0},
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func TestMemoryJobStoreTerminalTransitionIsOneShot(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, "job-1")

	artifact := domain.Artifact{
		Filename:        "slideshow-job-1.mp4",
		Path:            "slideshows/slideshow-job-1.mp4",
		Size:            4096,
		DurationSeconds: 2,
	}

	job, err := s.MarkCompleted(context.Background(), "job-1", artifact)
	if err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected status completed, got %s", job.Status)
	}
	if job.Artifact != artifact {
		t.Fatalf("expected artifact %+v, got %+v", artifact, job.Artifact)
	}

	if _, err := s.MarkFailed(context.Background(), "job-1"); err != ErrJobTerminal {
		t.Fatalf("expected ErrJobTerminal on second terminal write, got %v", err)
	}
	if _, err := s.MarkCompleted(context.Background(), "job-1", artifact); err != ErrJobTerminal {
		t.Fatalf("expected ErrJobTerminal on repeated completion, got %v", err)
	}

	job, ok, err := s.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("Get after completion: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal status changed to %s", job.Status)
	}
}

func TestMemoryJobStoreCreateRejectsDuplicateID(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, "job-1")

	err := s.Create(context.Background(), domain.RenderJob{
		ID:      "job-1",
		AlbumID: "album-2",
		Status:  domain.JobStatusProcessing,
	})
	if err == nil {
		t.Fatal("expected error for duplicate job id")
	}

	job, ok, err := s.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("Get after rejected create: ok=%v err=%v", ok, err)
	}
	if job.AlbumID != "album-1" {
		t.Fatalf("existing record was overwritten: %+v", job)
	}
}

func TestMemoryJobStoreMarkFailedLeavesArtifactEmpty(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, "job-2")

	job, err := s.MarkFailed(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
	if !job.Artifact.Empty() {
		t.Fatalf("failed job must have empty artifact, got %+v", job.Artifact)
	}
}

func TestMemoryJobStoreUnknownJob(t *testing.T) {
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
	if _, err := s.MarkFailed(context.Background(), "missing"); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStoreListByAlbumNewestFirst(t *testing.T) {
	s := NewMemoryJobStore()
	older := domain.RenderJob{ID: "job-old", AlbumID: "album-1", Status: domain.JobStatusProcessing, CreatedAt: time.Now().UTC().Add(-time.Hour)}
	newer := domain.RenderJob{ID: "job-new", AlbumID: "album-1", Status: domain.JobStatusProcessing, CreatedAt: time.Now().UTC()}
	other := domain.RenderJob{ID: "job-other", AlbumID: "album-2", Status: domain.JobStatusProcessing, CreatedAt: time.Now().UTC()}
	for _, job := range []domain.RenderJob{older, newer, other} {
		if err := s.Create(context.Background(), job); err != nil {
			t.Fatalf("create %s: %v", job.ID, err)
		}
	}

	jobs, err := s.ListByAlbum(context.Background(), "album-1")
	if err != nil {
		t.Fatalf("ListByAlbum returned error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "job-new" || jobs[1].ID != "job-old" {
		t.Fatalf("expected newest first, got %s then %s", jobs[0].ID, jobs[1].ID)
	}
}
