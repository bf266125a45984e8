package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pollInterval = 20 * time.Millisecond
	keyTTL       = 10 * time.Minute
)

// RedisTracker implements the cross-worker counter on a shared redis
// instance. Created once per distributed job; the key namespace is the job
// id, so concurrent jobs on the same redis do not collide.
type RedisTracker struct {
	client *redis.Client
	jobID  string
}

var _ Tracker = &RedisTracker{}

func NewRedisTracker(addr, jobID string) *RedisTracker {
	return &RedisTracker{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		jobID: jobID,
	}
}

func (t *RedisTracker) key(parts ...string) string {
	k := t.jobID
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (t *RedisTracker) ResetDone(ctx context.Context) error {
	if err := t.client.Set(ctx, t.key("num_done"), 0, keyTTL).Err(); err != nil {
		return fmt.Errorf("resetting rollout counter: %w", err)
	}
	return nil
}

func (t *RedisTracker) IncrDone(ctx context.Context) (int64, error) {
	n, err := t.client.Incr(ctx, t.key("num_done")).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing rollout counter: %w", err)
	}
	return n, nil
}

func (t *RedisTracker) NumDone(ctx context.Context) (int64, error) {
	n, err := t.client.Get(ctx, t.key("num_done")).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading rollout counter: %w", err)
	}
	return n, nil
}

func (t *RedisTracker) Barrier(ctx context.Context, name string, worldSize int) error {
	key := t.key("barrier", name)
	if err := t.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("entering barrier %s: %w", name, err)
	}
	t.client.Expire(ctx, key, keyTTL)

	for {
		n, err := t.client.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("polling barrier %s: %w", name, err)
		}
		if n >= int64(worldSize) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (t *RedisTracker) AllReduceSum(ctx context.Context, seq int64, vec []float64, worldSize int) ([]float64, error) {
	key := t.key("reduce", fmt.Sprintf("%d", seq))

	bs, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	if err := t.client.RPush(ctx, key, bs).Err(); err != nil {
		return nil, fmt.Errorf("contributing to reduction %d: %w", seq, err)
	}
	t.client.Expire(ctx, key, keyTTL)

	for {
		n, err := t.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("polling reduction %d: %w", seq, err)
		}
		if n >= int64(worldSize) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	entries, err := t.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading reduction %d: %w", seq, err)
	}

	sum := make([]float64, len(vec))
	for _, e := range entries {
		var contrib []float64
		if err := json.Unmarshal([]byte(e), &contrib); err != nil {
			return nil, fmt.Errorf("decoding reduction %d: %w", seq, err)
		}
		if len(contrib) != len(sum) {
			return nil, fmt.Errorf("reduction %d: contribution of length %d, expected %d", seq, len(contrib), len(sum))
		}
		for i, v := range contrib {
			sum[i] += v
		}
	}
	return sum, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
