package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashgrove/topicwatch/internal/ratelimit"
	"github.com/ashgrove/topicwatch/internal/social"
	"github.com/ashgrove/topicwatch/internal/store"
)

// Discoverer pages through one not-yet-fully-paginated user's follow-graph
// per step, seeding the store with accounts it hasn't seen before
// (spec.md §4.8).
type Discoverer struct {
	store    Store
	posts    social.Port
	registry *ratelimit.Registry
	notifier Notifier
	logger   *slog.Logger
}

// NewDiscoverer creates a Discoverer. notifier may be nil.
func NewDiscoverer(st Store, posts social.Port, registry *ratelimit.Registry, notifier Notifier, logger *slog.Logger) *Discoverer {
	return &Discoverer{store: st, posts: posts, registry: registry, notifier: notifier, logger: logger}
}

// Step runs one loop iteration of spec.md §4.8.
func (d *Discoverer) Step(ctx context.Context) (Outcome, error) {
	wait, err := d.registry.TimeUntilReset(ctx, ratelimit.PostsAPI)
	if err != nil {
		return Idle, err
	}
	if wait > 0 {
		return Wait, nil
	}

	u, err := d.store.NextUserToDiscover(ctx)
	if err != nil {
		return Idle, err
	}
	if u == nil {
		return Idle, nil
	}

	var upsertErr error
	iterErr := d.posts.IterateFollowing(ctx, u.ID, func(fu social.User) bool {
		if err := d.store.UpsertUser(ctx, store.User{
			ID: fu.ID, Username: fu.Username, Name: fu.Name, URL: fu.URL,
			Description: fu.Description, Verified: fu.Verified, Protected: fu.Protected,
		}); err != nil {
			upsertErr = err
			return false
		}
		return true
	})
	if upsertErr != nil {
		return Idle, upsertErr
	}
	if iterErr != nil {
		var rateLimited *social.RateLimited
		if errors.As(iterErr, &rateLimited) {
			if err := d.registry.SetReset(ctx, ratelimit.PostsAPI, rateLimited.ResetAt); err != nil {
				return Idle, err
			}
			return Wait, nil
		}
		d.logger.Warn("discoverer pagination failed", "user_id", u.ID, "error", iterErr)
		return Processed, nil
	}

	if err := d.store.SetScrapedFollowing(ctx, u.ID); err != nil {
		return Idle, err
	}
	if d.notifier != nil {
		d.notifier.NotifyDiscovered(ctx, u.ID, u.Username)
	}
	return Processed, nil
}
