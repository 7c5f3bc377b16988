package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// triggerKey is the sorted set holding the pending trigger, scored
	// by due time. There is only ever one member: the trigger has a
	// fixed identity, so rescheduling replaces rather than accumulates.
	triggerKey = "agent:triggers"

	// triggerMember is the fixed identity of the recurring run.
	triggerMember = "agent-run"

	// heartbeatKey is set by a live worker with a short TTL; its
	// presence tells the scheduler the durable queue path is active.
	heartbeatKey = "worker:heartbeat"

	heartbeatTTL = 60 * time.Second
)

// TriggerQueue is the durable delayed-trigger backend.
type TriggerQueue interface {
	// Clear removes any pending trigger.
	Clear(ctx context.Context) error

	// EnqueueAt schedules the trigger to fire at the given time.
	EnqueueAt(ctx context.Context, at time.Time) error

	// ClaimDue atomically claims the trigger if it is due. Exactly one
	// caller wins a due trigger.
	ClaimDue(ctx context.Context, now time.Time) (bool, error)

	// WorkerAlive reports whether a queue worker has a live heartbeat.
	WorkerAlive(ctx context.Context) (bool, error)

	// Heartbeat refreshes this process's worker heartbeat.
	Heartbeat(ctx context.Context) error
}

// RedisQueue implements TriggerQueue on a Redis sorted set.
type RedisQueue struct {
	rdb redis.UniversalClient
}

// NewRedisQueue creates a queue over the given Redis client.
func NewRedisQueue(rdb redis.UniversalClient) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	if err := q.rdb.ZRem(ctx, triggerKey, triggerMember).Err(); err != nil {
		return fmt.Errorf("clearing trigger: %w", err)
	}
	return nil
}

func (q *RedisQueue) EnqueueAt(ctx context.Context, at time.Time) error {
	err := q.rdb.ZAdd(ctx, triggerKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: triggerMember,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueueing trigger: %w", err)
	}
	return nil
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time) (bool, error) {
	score, err := q.rdb.ZScore(ctx, triggerKey, triggerMember).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading trigger: %w", err)
	}
	if int64(score) > now.Unix() {
		return false, nil
	}
	// ZRem returns how many members were removed; a concurrent claimer
	// may have beaten us to it.
	removed, err := q.rdb.ZRem(ctx, triggerKey, triggerMember).Result()
	if err != nil {
		return false, fmt.Errorf("claiming trigger: %w", err)
	}
	return removed > 0, nil
}

func (q *RedisQueue) WorkerAlive(ctx context.Context) (bool, error) {
	err := q.rdb.Get(ctx, heartbeatKey).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading heartbeat: %w", err)
	}
	return true, nil
}

func (q *RedisQueue) Heartbeat(ctx context.Context) error {
	if err := q.rdb.Set(ctx, heartbeatKey, time.Now().UTC().Format(time.RFC3339), heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	return nil
}
