package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/mister-handy/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	runStream    = "handy:runs"
	runStreamCap = 10000
)

// StreamPublisher mirrors every scheduled run onto a Redis stream so other
// services can follow task outcomes without polling the HTTP API.
// Unlike Notifier it does not filter by severity.
type StreamPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStreamPublisher connects to Redis and returns a stream publisher.
func NewStreamPublisher(redisURL string, logger *zap.Logger) (*StreamPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &StreamPublisher{rdb: rdb, logger: logger}, nil
}

// Consume implements orchestrator.ResultSink.
func (p *StreamPublisher) Consume(ctx context.Context, run *orchestrator.ScheduledRun) {
	data, err := json.Marshal(run)
	if err != nil {
		p.logger.Warn("marshal scheduled run", zap.Error(err))
		return
	}

	_, err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: runStream,
		MaxLen: runStreamCap,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		p.logger.Warn("publish run",
			zap.String("agent", run.Agent),
			zap.String("task", run.TaskID),
			zap.Error(err))
		return
	}

	p.logger.Debug("published run",
		zap.String("agent", run.Agent),
		zap.String("task", run.TaskID))
}

// Close shuts down the Redis connection.
func (p *StreamPublisher) Close() error {
	return p.rdb.Close()
}
