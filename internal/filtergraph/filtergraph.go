// Package filtergraph builds the ffmpeg composition program for a slideshow:
// one normalization chain per source image followed by a single concat. The
// builder is pure; identical ordered inputs always produce identical output.
package filtergraph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	OutputWidth     = 1280
	OutputHeight    = 720
	FrameRate       = 30
	SecondsPerImage = 2
)

// Input is one ordered source image. Rotation is clockwise degrees and must
// be a multiple of 90.
type Input struct {
	Path     string
	Rotation int
}

// Program is everything the renderer needs to drive the composition tool:
// ordered input paths, the filter_complex text, and the output arguments.
type Program struct {
	Inputs          []string
	FilterComplex   string
	OutputArgs      []string
	DurationSeconds int
}

// Build maps the ordered image list to a composition program. Each image is
// scaled to fit the target frame preserving aspect ratio, padded to the exact
// frame, held for the fixed display duration, and the held segments are
// concatenated in order.
func Build(inputs []Input) (Program, error) {
	if len(inputs) == 0 {
		return Program{}, errors.New("at least one input image is required")
	}

	paths := make([]string, 0, len(inputs))
	stages := make([]string, 0, len(inputs)+1)

	// One still image looped for N seconds is N*rate frames; loop counts
	// repeats of the first frame, hence the -1.
	loopCount := SecondsPerImage*FrameRate - 1

	for i, in := range inputs {
		paths = append(paths, in.Path)

		var chain strings.Builder
		fmt.Fprintf(&chain, "[%d:v]", i)
		if rot := rotationFilter(in.Rotation); rot != "" {
			chain.WriteString(rot)
			chain.WriteString(",")
		}
		fmt.Fprintf(
			&chain,
			"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,loop=loop=%d:size=1:start=0[img%d]",
			OutputWidth, OutputHeight,
			OutputWidth, OutputHeight,
			loopCount,
			i,
		)
		stages = append(stages, chain.String())
	}

	var concat strings.Builder
	for i := range inputs {
		fmt.Fprintf(&concat, "[img%d]", i)
	}
	fmt.Fprintf(&concat, "concat=n=%d:v=1:a=0[outv]", len(inputs))
	stages = append(stages, concat.String())

	duration := len(inputs) * SecondsPerImage

	return Program{
		Inputs:        paths,
		FilterComplex: strings.Join(stages, ";"),
		OutputArgs: []string{
			"-map", "[outv]",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-r", strconv.Itoa(FrameRate),
			"-preset", "fast",
			"-crf", "23",
			"-t", strconv.Itoa(duration),
		},
		DurationSeconds: duration,
	}, nil
}

func rotationFilter(degrees int) string {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}
