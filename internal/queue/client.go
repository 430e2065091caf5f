package queue

import (
	"context"

	"github.com/hibiken/asynq"
)

// Client wraps an asynq client behind the gateway's task-queue contract.
type Client struct {
	inner *asynq.Client
}

// NewClient connects to redis for task scheduling.
func NewClient(addr, password string, db int) *Client {
	return &Client{inner: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// EnqueueExtract schedules a deed text extraction.
func (c *Client) EnqueueExtract(ctx context.Context, payload ExtractPayload) error {
	return EnqueueExtract(ctx, c.inner, payload)
}

// EnqueueCleanup schedules a private-copy removal.
func (c *Client) EnqueueCleanup(ctx context.Context, payload CleanupPayload) error {
	return EnqueueCleanup(ctx, c.inner, payload)
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.inner.Close()
}
