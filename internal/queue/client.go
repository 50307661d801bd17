package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/fitroom/internal/config"
)

type Client struct {
	client *asynq.Client
	queue  string
	opts   []asynq.Option
}

func NewClient(cfg config.QueueConfig) *Client {
	return &Client{
		client: asynq.NewClient(cfg.RedisClientOpt()),
		queue:  cfg.Name,
		opts:   enqueueOptions(cfg),
	}
}

// enqueueOptions keeps finished tasks for cfg.Retention so a duplicate
// enqueue of the same job id is still rejected after it ran.
func enqueueOptions(cfg config.QueueConfig) []asynq.Option {
	maxRetry := cfg.MaxRetry
	if maxRetry < 0 {
		maxRetry = 0
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	opts := []asynq.Option{
		asynq.Queue(cfg.Name),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
	}
	if cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(cfg.Retention))
	}
	return opts
}

// EnqueueTryOn uses the job id as task id, so a job is queued at most once.
func (c *Client) EnqueueTryOn(ctx context.Context, payload TryOnPayload) (*asynq.TaskInfo, error) {
	task, err := NewTryOnTask(payload)
	if err != nil {
		return nil, err
	}
	opts := append([]asynq.Option{asynq.TaskID(payload.JobID)}, c.opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

func (c *Client) Close() error {
	return c.client.Close()
}
