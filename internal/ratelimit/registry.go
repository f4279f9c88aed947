// Package ratelimit tracks when each external service's rate limit next
// resets, shared across the api/worker/discover processes via Redis so the
// registry survives process restarts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Well-known registry keys, one per external service.
const (
	PostsAPI = "posts_api"
	NLPAPI   = "nlp_api"
)

const keyPrefix = "ratelimit:"

// Clock abstracts wall-clock time so tests can fake it without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Backend is the minimal key/value surface the registry needs. Depending
// on this interface rather than *redis.Client lets tests substitute an
// in-memory fake.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
}

// redisBackend adapts a *redis.Client to Backend.
type redisBackend struct {
	rdb *redis.Client
}

func (b redisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b redisBackend) Set(ctx context.Context, key string, value string) error {
	return b.rdb.Set(ctx, key, value, 0).Err()
}

// Registry is the last-writer-wins store of per-service reset times. It is
// always used as an injected handle (never a package-level variable), so
// callers can construct one per test with a fake Clock and Backend.
type Registry struct {
	backend Backend
	clock   Clock
}

// New creates a Registry backed by rdb using the system clock.
func New(rdb *redis.Client) *Registry {
	return &Registry{backend: redisBackend{rdb}, clock: SystemClock{}}
}

// NewWithBackend creates a Registry over an arbitrary Backend, for tests
// that fake out Redis entirely.
func NewWithBackend(backend Backend, clock Clock) *Registry {
	return &Registry{backend: backend, clock: clock}
}

func redisKey(service string) string {
	return keyPrefix + service + ".reset_at"
}

// TimeUntilReset returns max(0, reset_at − now) for service. A service with
// no recorded reset time is never rate-limited.
func (r *Registry) TimeUntilReset(ctx context.Context, service string) (time.Duration, error) {
	val, ok, err := r.backend.Get(ctx, redisKey(service))
	if err != nil {
		return 0, fmt.Errorf("reading reset time for %s: %w", service, err)
	}
	if !ok {
		return 0, nil
	}

	epoch, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing reset time for %s: %w", service, err)
	}

	resetAt := time.Unix(epoch, 0)
	remaining := resetAt.Sub(r.clock.Now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// SetReset overwrites service's recorded reset time. No TTL is set — a
// stale past value is harmless since TimeUntilReset floors at zero.
func (r *Registry) SetReset(ctx context.Context, service string, at time.Time) error {
	if err := r.backend.Set(ctx, redisKey(service), strconv.FormatInt(at.Unix(), 10)); err != nil {
		return fmt.Errorf("setting reset time for %s: %w", service, err)
	}
	return nil
}

// BumpReset advances service's reset time by at least d from now, used by
// the entity/classify workers' conservative backoff when the NLP port's
// rate-limit error doesn't carry a precise reset (spec.md §4.6).
func (r *Registry) BumpReset(ctx context.Context, service string, d time.Duration) error {
	return r.SetReset(ctx, service, r.clock.Now().Add(d))
}
