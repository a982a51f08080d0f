package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// progressPrefix matches the grabber's per-requester progress channels
const progressPrefix = "grab:progress:"

// RedisSubscriber forwards progress events from Redis pub/sub to the hub
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *slog.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, hub *Hub, log *slog.Logger) *RedisSubscriber {
	return &RedisSubscriber{redis: redisClient, hub: hub, log: log}
}

// Run subscribes to grab:progress:* and relays until ctx is done
func (s *RedisSubscriber) Run(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, progressPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", progressPrefix, err)
	}
	s.log.Info("redis subscription confirmed", "pattern", progressPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			requester, valid := requesterFromChannel(msg.Channel)
			if !valid {
				s.log.Warn("ignoring message on unexpected channel", "channel", msg.Channel)
				continue
			}
			s.hub.Publish(ctx, &Message{Requester: requester, Data: []byte(msg.Payload)})
		}
	}
}

// requesterFromChannel extracts the requester from grab:progress:<requester>.
// Requester ids may themselves contain colons.
func requesterFromChannel(channel string) (string, bool) {
	requester, ok := strings.CutPrefix(channel, progressPrefix)
	if !ok || requester == "" {
		return "", false
	}
	return requester, true
}
