package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
	"github.com/lyzr/mediagrab/common/redis"
)

// ProgressChannelPrefix prefixes the per-requester pub/sub channel
const ProgressChannelPrefix = "grab:progress:"

// Publisher forwards batch progress to whoever is watching
type Publisher interface {
	Publish(ctx context.Context, p models.BatchProgress) error
}

// ProgressChannel is the pub/sub channel for a requester
func ProgressChannel(requester string) string {
	return ProgressChannelPrefix + requester
}

// RedisPublisher publishes progress as JSON on grab:progress:<requester>
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a redis-backed publisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, progress models.BatchProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return p.client.PublishEvent(ctx, ProgressChannel(progress.RequesterID), string(data))
}

// LogPublisher writes progress to the log when no broker is configured
type LogPublisher struct {
	log logger.Interface
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(log logger.Interface) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, progress models.BatchProgress) error {
	p.log.Info("batch progress",
		"batch_id", progress.BatchID,
		"requester_id", progress.RequesterID,
		"completed", progress.Completed,
		"total", progress.Total,
		"done", progress.Done,
	)
	return nil
}
