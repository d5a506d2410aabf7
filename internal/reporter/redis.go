package reporter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// RedisReporter publishes outcome events to a channel and keeps the newest
// ListMax of them in a list.
type RedisReporter struct {
	client  redis.Cmdable
	channel string
	listKey string
	listMax int64
}

// NewRedisReporter creates a reporter on client.
func NewRedisReporter(client redis.Cmdable, channel, listKey string, listMax int64) *RedisReporter {
	if listMax < 1 {
		listMax = 1000
	}
	return &RedisReporter{client: client, channel: channel, listKey: listKey, listMax: listMax}
}

// Name implements Reporter.
func (r *RedisReporter) Name() string { return "redis" }

// Report publishes the outcome. Candidates without an outcome are skipped.
func (r *RedisReporter) Report(ctx context.Context, c models.Candidate, o *models.Outcome) error {
	if o == nil {
		return nil
	}
	payload, err := marshalEvent(c, *o)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := string(payload)

	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	if r.listKey == "" {
		return nil
	}
	if err := r.client.LPush(ctx, r.listKey, msg).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", r.listKey, err)
	}
	if err := r.client.LTrim(ctx, r.listKey, 0, r.listMax-1).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w", r.listKey, err)
	}
	return nil
}

// Close closes the client when it owns a connection pool.
func (r *RedisReporter) Close() error {
	if cl, ok := r.client.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
