//go:build govips && cgo

package storage

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := vips.NewThumbnailFromBuffer(data, thumbnailSize, thumbnailSize, vips.InterestingCentre)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	params := vips.NewJpegExportParams()
	params.Quality = thumbnailQuality

	out, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return out, nil
}
