package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// RedisNotifier queues the completion event for the reporting worker and
// broadcasts it on the test's monitor channel.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a new RedisNotifier.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

// NotifyCompleted pushes ev onto the completion queue and publishes it.
func (n *RedisNotifier) NotifyCompleted(ctx context.Context, ev model.CompletionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	pipe := n.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.SessionCompletedQueue, body)
	pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID.String()), body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}
