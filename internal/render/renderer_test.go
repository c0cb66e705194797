package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/slideflow/internal/domain"
	"github.com/dunamismax/slideflow/internal/filtergraph"
)

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake-image"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func buildProgram(t *testing.T, paths ...string) filtergraph.Program {
	t.Helper()
	inputs := make([]filtergraph.Input, 0, len(paths))
	for _, p := range paths {
		inputs = append(inputs, filtergraph.Input{Path: p})
	}
	prog, err := filtergraph.Build(inputs)
	if err != nil {
		t.Fatalf("build program: %v", err)
	}
	return prog
}

func TestRenderSuccess(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.jpg")
	out := filepath.Join(dir, "out", "slideshow.mp4")

	var gotArgs []string
	r := NewFFmpegRenderer("ffmpeg")
	r.WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "ffmpeg" {
			t.Fatalf("expected ffmpeg binary, got %s", name)
		}
		gotArgs = args
		// The runner stands in for the real tool: write the output file.
		if err := os.WriteFile(out, []byte("fake-video-bytes"), 0o644); err != nil {
			t.Fatalf("write fake output: %v", err)
		}
		return nil, nil
	})

	artifact, err := r.Render(context.Background(), buildProgram(t, src), out)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if artifact.Path != out {
		t.Fatalf("expected path %s, got %s", out, artifact.Path)
	}
	if artifact.Size != int64(len("fake-video-bytes")) {
		t.Fatalf("expected size from written file, got %d", artifact.Size)
	}
	if artifact.DurationSeconds != filtergraph.SecondsPerImage {
		t.Fatalf("expected duration %d, got %d", filtergraph.SecondsPerImage, artifact.DurationSeconds)
	}

	if len(gotArgs) == 0 || gotArgs[len(gotArgs)-1] != out {
		t.Fatalf("output path must be the last argument: %v", gotArgs)
	}
	foundInput := false
	for i, arg := range gotArgs {
		if arg == "-i" && i+1 < len(gotArgs) && gotArgs[i+1] == src {
			foundInput = true
		}
	}
	if !foundInput {
		t.Fatalf("source input missing from args: %v", gotArgs)
	}
}

func TestRenderFailsFastOnMissingSource(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.jpg")
	missing := filepath.Join(dir, "gone.jpg")

	invoked := false
	r := NewFFmpegRenderer("ffmpeg")
	r.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		invoked = true
		return nil, nil
	})

	_, err := r.Render(context.Background(), buildProgram(t, src, missing), filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, domain.ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
	if invoked {
		t.Fatal("subprocess must not run when a source is unreadable")
	}
}

func TestRenderReportsToolFailureWithDiagnostic(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.jpg")

	r := NewFFmpegRenderer("ffmpeg")
	r.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	})

	_, err := r.Render(context.Background(), buildProgram(t, src), filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, domain.ErrRenderFailure) {
		t.Fatalf("expected ErrRenderFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("diagnostic output must be retained in the error: %v", err)
	}
}

func TestRenderFailsWhenOutputFileAbsent(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.jpg")

	r := NewFFmpegRenderer("ffmpeg")
	r.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		// Clean exit without writing the output file.
		return nil, nil
	})

	_, err := r.Render(context.Background(), buildProgram(t, src), filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, domain.ErrRenderFailure) {
		t.Fatalf("expected ErrRenderFailure for absent output, got %v", err)
	}
}
