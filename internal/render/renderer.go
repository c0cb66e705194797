package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dunamismax/slideflow/internal/domain"
	"github.com/dunamismax/slideflow/internal/filtergraph"
)

// Artifact is the renderer's report on a finished output file.
type Artifact struct {
	Path            string
	Size            int64
	DurationSeconds int
}

// Renderer turns a composition program into a video artifact.
type Renderer interface {
	Render(ctx context.Context, prog filtergraph.Program, outputPath string) (Artifact, error)
}

// CommandRunner executes a subprocess and returns its combined output.
// Injectable so tests can assert on job-state transitions without a real
// media tool installed.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// FFmpegRenderer drives a pre-installed ffmpeg binary.
type FFmpegRenderer struct {
	bin string
	run CommandRunner
}

func NewFFmpegRenderer(bin string) *FFmpegRenderer {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	return &FFmpegRenderer{
		bin: bin,
		run: defaultCommandRunner,
	}
}

// WithCommandRunner replaces the subprocess runner, for tests.
func (r *FFmpegRenderer) WithCommandRunner(run CommandRunner) {
	if run != nil {
		r.run = run
	}
}

// Render verifies every source is locally readable, invokes the tool, and
// stats the written file. Any tool failure or absent output is reported as a
// render failure carrying the tool's diagnostic output; the tool's progress
// stream is not part of the contract.
func (r *FFmpegRenderer) Render(ctx context.Context, prog filtergraph.Program, outputPath string) (Artifact, error) {
	if len(prog.Inputs) == 0 {
		return Artifact{}, fmt.Errorf("%w: program has no inputs", domain.ErrValidation)
	}

	for _, input := range prog.Inputs {
		if _, err := os.Stat(input); err != nil {
			return Artifact{}, fmt.Errorf("%w: %s: %v", domain.ErrMissingSource, input, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create output directory: %w", err)
	}

	args := buildArgs(prog, outputPath)
	if output, err := r.run(ctx, r.bin, args...); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v: %s", domain.ErrRenderFailure, err, strings.TrimSpace(string(output)))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: tool exited cleanly but produced no output file: %v", domain.ErrRenderFailure, err)
	}

	return Artifact{
		Path:            outputPath,
		Size:            info.Size(),
		DurationSeconds: prog.DurationSeconds,
	}, nil
}

func buildArgs(prog filtergraph.Program, outputPath string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, input := range prog.Inputs {
		args = append(args, "-i", input)
	}
	args = append(args, "-filter_complex", prog.FilterComplex)
	args = append(args, prog.OutputArgs...)
	args = append(args, outputPath)
	return args
}
