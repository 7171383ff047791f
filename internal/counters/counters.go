// Package counters keeps lightweight operational tallies in Redis: daily
// send volume and webhook correlation misses. The counters are advisory;
// a Redis outage degrades them silently rather than failing sends.
package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// retention keeps daily keys around long enough for weekly reporting.
const retention = 14 * 24 * time.Hour

// Counters wraps a Redis client. A nil client disables counting entirely,
// matching deployments that run without Redis.
type Counters struct {
	rdb *redis.Client
}

// New creates counters over an optional Redis client.
func New(rdb *redis.Client) *Counters {
	return &Counters{rdb: rdb}
}

func dayKey(prefix string, day time.Time) string {
	return fmt.Sprintf("sendrelay:%s:%s", prefix, day.UTC().Format("2006-01-02"))
}

// IncrSent bumps today's send tally.
func (c *Counters) IncrSent(ctx context.Context) error {
	return c.incr(ctx, dayKey("sent", time.Now()))
}

// IncrCorrelationMiss bumps today's tally of webhook and tracking hits that
// matched no send record. A rising miss rate usually means a misrouted
// webhook subscription or expired retention.
func (c *Counters) IncrCorrelationMiss(ctx context.Context) error {
	return c.incr(ctx, dayKey("correlation_miss", time.Now()))
}

func (c *Counters) incr(ctx context.Context, key string) error {
	if c.rdb == nil {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, retention)
	_, err := pipe.Exec(ctx)
	return err
}

// SentToday returns today's send tally.
func (c *Counters) SentToday(ctx context.Context) (int64, error) {
	return c.get(ctx, dayKey("sent", time.Now()))
}

// CorrelationMissesToday returns today's miss tally.
func (c *Counters) CorrelationMissesToday(ctx context.Context) (int64, error) {
	return c.get(ctx, dayKey("correlation_miss", time.Now()))
}

func (c *Counters) get(ctx context.Context, key string) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	n, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
