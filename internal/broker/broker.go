// Package broker is the Redis-backed queue and in-flight-set medium shared
// by the coordinator and the worker roles. Lists give FIFO request/result
// queues; sets give the in-flight mutual-exclusion primitive and the
// collapsing scrape-request queue.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this package touches in the shared Redis
// instance.
const keyPrefix = "topicwatch:"

// Broker wraps a Redis client with the list and set primitives the
// coordinator and workers need. All operations are atomic single Redis
// commands; no client-side locking is involved.
type Broker struct {
	rdb *redis.Client
}

// New creates a Broker backed by the given Redis client.
func New(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

func key(name string) string {
	return keyPrefix + name
}

// PushTail appends value to the tail of queue q (RPUSH).
func (b *Broker) PushTail(ctx context.Context, q string, value string) error {
	if err := b.rdb.RPush(ctx, key(q), value).Err(); err != nil {
		return fmt.Errorf("pushing tail of %s: %w", q, err)
	}
	return nil
}

// PushHead re-queues value at the head of queue q (LPUSH), used to retry a
// record after a rate-limit wait without losing its place.
func (b *Broker) PushHead(ctx context.Context, q string, value string) error {
	if err := b.rdb.LPush(ctx, key(q), value).Err(); err != nil {
		return fmt.Errorf("pushing head of %s: %w", q, err)
	}
	return nil
}

// PopHead removes and returns the head of queue q (LPOP). ok is false if the
// queue was empty.
func (b *Broker) PopHead(ctx context.Context, q string) (value string, ok bool, err error) {
	v, err := b.rdb.LPop(ctx, key(q)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("popping head of %s: %w", q, err)
	}
	return v, true, nil
}

// Add inserts member into set s (SADD).
func (b *Broker) Add(ctx context.Context, s string, member string) error {
	if err := b.rdb.SAdd(ctx, key(s), member).Err(); err != nil {
		return fmt.Errorf("adding %q to %s: %w", member, s, err)
	}
	return nil
}

// Remove deletes member from set s (SREM). Removing an absent member is a
// no-op.
func (b *Broker) Remove(ctx context.Context, s string, member string) error {
	if err := b.rdb.SRem(ctx, key(s), member).Err(); err != nil {
		return fmt.Errorf("removing %q from %s: %w", member, s, err)
	}
	return nil
}

// IsMember reports whether member is present in set s (SISMEMBER).
func (b *Broker) IsMember(ctx context.Context, s string, member string) (bool, error) {
	ok, err := b.rdb.SIsMember(ctx, key(s), member).Result()
	if err != nil {
		return false, fmt.Errorf("checking membership of %q in %s: %w", member, s, err)
	}
	return ok, nil
}

// PopArbitrary removes and returns one unspecified member of set s (SPOP).
// ok is false if the set was empty.
func (b *Broker) PopArbitrary(ctx context.Context, s string) (member string, ok bool, err error) {
	v, err := b.rdb.SPop(ctx, key(s)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("popping arbitrary member of %s: %w", s, err)
	}
	return v, true, nil
}

// Members returns every member of set s (SMEMBERS), for the operator
// surface and tests. Order is unspecified.
func (b *Broker) Members(ctx context.Context, s string) ([]string, error) {
	members, err := b.rdb.SMembers(ctx, key(s)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", s, err)
	}
	return members, nil
}

// ListLen reports the length of list queue q, for queue-depth metrics.
func (b *Broker) ListLen(ctx context.Context, q string) (int64, error) {
	n, err := b.rdb.LLen(ctx, key(q)).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring length of %s: %w", q, err)
	}
	return n, nil
}

// SetLen reports the cardinality of set s, for queue-depth metrics.
func (b *Broker) SetLen(ctx context.Context, s string) (int64, error) {
	n, err := b.rdb.SCard(ctx, key(s)).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring cardinality of %s: %w", s, err)
	}
	return n, nil
}

// IncrAttempt bumps the consecutive-failure counter for id in hash h and
// returns the new count (HINCRBY).
func (b *Broker) IncrAttempt(ctx context.Context, h string, id string) (int64, error) {
	n, err := b.rdb.HIncrBy(ctx, key(h), id, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing attempt count for %q in %s: %w", id, h, err)
	}
	return n, nil
}

// ClearAttempt removes id's counter from hash h (HDEL), called on success or
// once the record is dead-lettered.
func (b *Broker) ClearAttempt(ctx context.Context, h string, id string) error {
	if err := b.rdb.HDel(ctx, key(h), id).Err(); err != nil {
		return fmt.Errorf("clearing attempt count for %q in %s: %w", id, h, err)
	}
	return nil
}

// PushDead appends a dead-lettered record payload to dead-letter queue q.
func (b *Broker) PushDead(ctx context.Context, q string, payload string) error {
	return b.PushTail(ctx, q, payload)
}

// ListDead returns every payload currently dead-lettered on queue q, for the
// operator inspect command. Order is FIFO.
func (b *Broker) ListDead(ctx context.Context, q string) ([]string, error) {
	items, err := b.rdb.LRange(ctx, key(q), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dead-letter queue %s: %w", q, err)
	}
	return items, nil
}

// DrainDead atomically reads and empties dead-letter queue q (LRANGE then
// DEL in one pipeline), so the operator requeue command never requeues the
// same dead-lettered record twice.
func (b *Broker) DrainDead(ctx context.Context, q string) ([]string, error) {
	var rangeCmd *redis.StringSliceCmd
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key(q), 0, -1)
		pipe.Del(ctx, key(q))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draining dead-letter queue %s: %w", q, err)
	}
	return rangeCmd.Val(), nil
}
