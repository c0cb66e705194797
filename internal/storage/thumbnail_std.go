//go:build !govips || !cgo

package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"image/jpeg"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func Startup() error {
	return nil
}

func Shutdown() {}

// makeThumbnail renders a square cover thumbnail: the largest centered square
// of the source scaled down to the fixed companion size.
func makeThumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	side := bounds.Dx()
	if bounds.Dy() < side {
		side = bounds.Dy()
	}
	if side < 1 {
		return nil, fmt.Errorf("source image has invalid dimensions")
	}

	cropX := bounds.Min.X + (bounds.Dx()-side)/2
	cropY := bounds.Min.Y + (bounds.Dy()-side)/2
	crop := image.Rect(cropX, cropY, cropX+side, cropY+side)

	dst := image.NewRGBA(image.Rect(0, 0, thumbnailSize, thumbnailSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, xdraw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
