package storage

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
)

// AssetDescriptor identifies a stored binary asset.
type AssetDescriptor struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Store is the capability-polymorphic asset store. Put derives and stores a
// thumbnail companion when the content hint is an image; Delete removes the
// companion along with the primary and is a no-op for absent keys. PutStream
// is the large-blob path: content flows straight from the reader with no
// buffering and no companion derivation.
type Store interface {
	Put(ctx context.Context, namespace string, data []byte, contentType string) (AssetDescriptor, error)
	PutStream(ctx context.Context, namespace string, r io.Reader, size int64, contentType string) (AssetDescriptor, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Locate(key string) string
	Open(ctx context.Context, key string) (ReadSeekCloser, int64, error)
}

const (
	thumbnailPrefix  = "thumb_"
	thumbnailSize    = 300
	thumbnailQuality = 80
)

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// companionKey maps a primary key to its thumbnail key. The transform is
// deterministic so deletion never needs a side index.
func companionKey(key string) string {
	dir, base := path.Split(key)
	return dir + thumbnailPrefix + base
}

func newFilename(contentType string) string {
	kind := "asset"
	switch {
	case isImage(contentType):
		kind = "image"
	case strings.HasPrefix(contentType, "video/"):
		kind = "video"
	}
	suffix := fmt.Sprintf("%d-%09d", time.Now().UnixMilli(), rand.Intn(1_000_000_000))
	return fmt.Sprintf("%s-%s%s", kind, suffix, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
