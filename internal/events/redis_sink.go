package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink republishes events on a Redis pub/sub channel so dashboards in
// other processes can follow progress.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisSink connects to redisURL (redis://host:port/db) and verifies the
// connection.
func NewRedisSink(ctx context.Context, redisURL, channel string, logger *zap.Logger) (*RedisSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if channel == "" {
		channel = "mediascribe:tasks"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{rdb: rdb, channel: channel, timeout: 2 * time.Second, logger: logger}, nil
}

// ChannelFor returns the per-task channel name.
func (s *RedisSink) ChannelFor(taskID string) string {
	return s.channel + ":" + taskID
}

// Notify publishes ev on the global channel and the task channel.
func (s *RedisSink) Notify(taskID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshal event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.Publish(ctx, s.channel, payload)
	pipe.Publish(ctx, s.ChannelFor(taskID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("publish event to redis failed",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
