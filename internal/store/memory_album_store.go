package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dunamismax/slideflow/internal/domain"
)

// MemoryAlbumDirectory is the in-process stand-in for the album collaborator,
// used by tests and single-binary development setups.
type MemoryAlbumDirectory struct {
	mu     sync.RWMutex
	owners map[string]string
	images map[string][]domain.SourceImage
}

func NewMemoryAlbumDirectory() *MemoryAlbumDirectory {
	return &MemoryAlbumDirectory{
		owners: make(map[string]string),
		images: make(map[string][]domain.SourceImage),
	}
}

func (d *MemoryAlbumDirectory) PutAlbum(albumID, ownerID string, images []domain.SourceImage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[albumID] = ownerID
	d.images[albumID] = append([]domain.SourceImage(nil), images...)
}

func (d *MemoryAlbumDirectory) AlbumOwned(_ context.Context, albumID, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	owner, ok := d.owners[albumID]
	return ok && owner == userID, nil
}

func (d *MemoryAlbumDirectory) ListAlbumImages(_ context.Context, albumID string) ([]domain.SourceImage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	images := append([]domain.SourceImage(nil), d.images[albumID]...)
	sort.Slice(images, func(i, j int) bool {
		return images[i].DisplayOrder < images[j].DisplayOrder
	})
	return images, nil
}
