package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.RenderJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.RenderJob),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Same contract as the postgres primary key: ids are write-once.
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.RenderJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) ListByAlbum(_ context.Context, albumID string) ([]domain.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []domain.RenderJob
	for _, job := range s.jobs {
		if job.AlbumID == albumID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *MemoryJobStore) MarkCompleted(_ context.Context, id string, artifact domain.Artifact) (domain.RenderJob, error) {
	return s.finish(id, domain.JobStatusCompleted, artifact)
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id string) (domain.RenderJob, error) {
	return s.finish(id, domain.JobStatusFailed, domain.Artifact{})
}

func (s *MemoryJobStore) finish(id, status string, artifact domain.Artifact) (domain.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}
	if job.Terminal() {
		return domain.RenderJob{}, ErrJobTerminal
	}

	job.Status = status
	job.Artifact = artifact
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}
