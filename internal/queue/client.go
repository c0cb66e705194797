package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client        *asynq.Client
	queue         string
	renderTimeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, renderTimeout time.Duration) *Client {
	if renderTimeout <= 0 {
		renderTimeout = 5 * time.Minute
	}
	return &Client{
		client:        asynq.NewClient(redisOpt),
		queue:         queueName,
		renderTimeout: renderTimeout,
	}
}

// EnqueueRenderSlideshow schedules the background render for a job. The task
// id is the job id, so a second enqueue for the same job is rejected by the
// queue with asynq.ErrTaskIDConflict; MaxRetry(0) because a failed render
// terminates the job and is never retried.
func (c *Client) EnqueueRenderSlideshow(ctx context.Context, payload RenderSlideshowPayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderSlideshowTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.renderTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
