package store

import (
	"context"
	"errors"

	"github.com/dunamismax/slideflow/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a terminal write targets a job that
	// already left processing. The record is never modified in that case.
	ErrJobTerminal = errors.New("job already terminal")
)

// JobStore persists render jobs. A job is written exactly twice: once at
// creation in processing, and once by MarkCompleted or MarkFailed.
type JobStore interface {
	Create(ctx context.Context, job domain.RenderJob) error
	Get(ctx context.Context, id string) (domain.RenderJob, bool, error)
	ListByAlbum(ctx context.Context, albumID string) ([]domain.RenderJob, error)
	MarkCompleted(ctx context.Context, id string, artifact domain.Artifact) (domain.RenderJob, error)
	MarkFailed(ctx context.Context, id string) (domain.RenderJob, error)
}

// AlbumDirectory is the read-only view onto the album/image collaborator
// that submission validation needs: ownership checks and the ordered image
// list of an album.
type AlbumDirectory interface {
	AlbumOwned(ctx context.Context, albumID, userID string) (bool, error)
	ListAlbumImages(ctx context.Context, albumID string) ([]domain.SourceImage, error)
}
