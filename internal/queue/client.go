package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/docingest/internal/config"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Client struct {
	client enqueuer
}

// RedisOpt converts cfg into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDocumentIngest returns the task id so callers can report it.
func (c *Client) EnqueueDocumentIngest(ctx context.Context, payload DocumentIngestPayload) (string, error) {
	return c.enqueue(ctx, TypeDocumentIngest, payload,
		asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(10*time.Minute))
}

func (c *Client) EnqueueUsageReconcile(ctx context.Context, payload UsageReconcilePayload) (string, error) {
	return c.enqueue(ctx, TypeUsageReconcile, payload,
		asynq.Queue(QueueLow), asynq.MaxRetry(2), asynq.Timeout(30*time.Minute))
}

// ScheduleNamespaceTeardown retries a namespace removal that failed inline.
func (c *Client) ScheduleNamespaceTeardown(ctx context.Context, tenantID, namespace string) error {
	_, err := c.enqueue(ctx, TypeNamespaceTeardown,
		NamespaceTeardownPayload{TenantID: tenantID, Namespace: namespace},
		asynq.Queue(QueueCritical), asynq.MaxRetry(10), asynq.Timeout(time.Minute), asynq.ProcessIn(30*time.Second))
	return err
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}
