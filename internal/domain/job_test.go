package domain

import "testing"

func TestSubmitRenderRequestValidate(t *testing.T) {
	valid := SubmitRenderRequest{AlbumID: "album-1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	withHook := SubmitRenderRequest{AlbumID: "album-1", WebhookURL: "https://example.com/hook"}
	if err := withHook.Validate(); err != nil {
		t.Fatalf("expected valid request with webhook, got error: %v", err)
	}

	missingAlbum := SubmitRenderRequest{}
	if err := missingAlbum.Validate(); err == nil {
		t.Fatal("expected validation error for missing album_id")
	}

	badHook := SubmitRenderRequest{AlbumID: "album-1", WebhookURL: "ftp://example.com"}
	if err := badHook.Validate(); err == nil {
		t.Fatal("expected validation error for non-http webhook_url")
	}
}

func TestRenderJobTerminal(t *testing.T) {
	job := RenderJob{Status: JobStatusProcessing}
	if job.Terminal() {
		t.Fatal("processing job must not be terminal")
	}

	job.Status = JobStatusCompleted
	if !job.Terminal() {
		t.Fatal("completed job must be terminal")
	}

	job.Status = JobStatusFailed
	if !job.Terminal() {
		t.Fatal("failed job must be terminal")
	}
}

func TestArtifactEmpty(t *testing.T) {
	if !(Artifact{}).Empty() {
		t.Fatal("zero artifact must report empty")
	}
	filled := Artifact{Filename: "slideshow-1.mp4", Path: "slideshows/slideshow-1.mp4", Size: 1000, DurationSeconds: 6}
	if filled.Empty() {
		t.Fatal("populated artifact must not report empty")
	}
}
