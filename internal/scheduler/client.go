package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"

	"adpilot_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *asynq.Client
	queue  string
}

// RunEnqueuer is the port for triggering optimizer work off the hot path.
type RunEnqueuer interface {
	EnqueueTenantRun(ctx context.Context, payload TenantRunPayload) error
	EnqueuePlanExecute(ctx context.Context, payload PlanExecutePayload) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueTenantRun queues a manual optimization run for one tenant. The run
// key dedupes against the scheduled slot, so a manual trigger during the
// same hour is a no-op.
func (c *Client) EnqueueTenantRun(ctx context.Context, payload TenantRunPayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewTenantRunTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(3))
	return err
}

// EnqueuePlanExecute queues the dispatch of an approved semi-auto plan.
func (c *Client) EnqueuePlanExecute(ctx context.Context, payload PlanExecutePayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewPlanExecuteTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(3))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
