package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// SourceImage is one entry of a job's ordered input list.
type SourceImage struct {
	StorageKey   string `json:"storage_key"`
	DisplayOrder int    `json:"display_order"`
	Rotation     int    `json:"rotation,omitempty"`
}

// Artifact describes the finished video of a completed job. It stays the
// zero value while the job is processing and forever if the job fails.
type Artifact struct {
	Filename        string `json:"filename"`
	Path            string `json:"path"`
	Size            int64  `json:"size"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (a Artifact) Empty() bool {
	return a.Filename == "" && a.Path == "" && a.Size == 0 && a.DurationSeconds == 0
}

type RenderJob struct {
	ID         string
	AlbumID    string
	Status     string
	Images     []SourceImage
	Artifact   Artifact
	WebhookURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the job has left processing. Terminal jobs are
// never updated again.
func (j RenderJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

type SubmitRenderRequest struct {
	AlbumID    string `json:"album_id"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (r SubmitRenderRequest) Validate() error {
	if strings.TrimSpace(r.AlbumID) == "" {
		return errors.New("album_id is required")
	}
	if hook := strings.TrimSpace(r.WebhookURL); hook != "" {
		u, err := url.Parse(hook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook_url must be an http(s) URL")
		}
	}
	return nil
}
