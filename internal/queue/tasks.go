package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/slideflow/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeRenderSlideshow = "slideshow:render"

type RenderSlideshowPayload struct {
	JobID       string               `json:"job_id"`
	AlbumID     string               `json:"album_id"`
	Images      []domain.SourceImage `json:"images"`
	WebhookURL  string               `json:"webhook_url,omitempty"`
	RequestedAt time.Time            `json:"requested_at"`
}

func NewRenderSlideshowTask(payload RenderSlideshowPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderSlideshow, body), nil
}

func ParseRenderSlideshowPayload(task *asynq.Task) (RenderSlideshowPayload, error) {
	var payload RenderSlideshowPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderSlideshowPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}
