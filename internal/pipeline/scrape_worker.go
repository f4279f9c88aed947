package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/ratelimit"
	"github.com/ashgrove/topicwatch/internal/social"
)

// ScrapeWorker pulls user ids off req.scrape and fetches their most recent
// posts (spec.md §4.5).
type ScrapeWorker struct {
	broker      Broker
	registry    *ratelimit.Registry
	posts       social.Port
	logger      *slog.Logger
	limit       int
	maxAttempts int
	metrics     WorkerMetrics
}

// NewScrapeWorker creates a ScrapeWorker. limit is N, the number of recent
// posts requested per user.
func NewScrapeWorker(br Broker, registry *ratelimit.Registry, posts social.Port, logger *slog.Logger, limit, maxAttempts int, metrics WorkerMetrics) *ScrapeWorker {
	return &ScrapeWorker{broker: br, registry: registry, posts: posts, logger: logger, limit: limit, maxAttempts: maxAttempts, metrics: metrics}
}

// Step runs one loop iteration of spec.md §4.5.
func (w *ScrapeWorker) Step(ctx context.Context) (outcome Outcome, err error) {
	defer w.recordOutcome(&outcome, &err)

	wait, err := w.registry.TimeUntilReset(ctx, ratelimit.PostsAPI)
	if err != nil {
		return Idle, err
	}
	if wait > 0 {
		return Wait, nil
	}

	userID, ok, err := w.broker.PopArbitrary(ctx, broker.ReqScrape)
	if err != nil {
		return Idle, err
	}
	if !ok {
		return Idle, nil
	}

	posts, err := w.posts.GetUserTweets(ctx, userID, w.limit)
	if err != nil {
		var rateLimited *social.RateLimited
		if errors.As(err, &rateLimited) {
			if err := w.registry.SetReset(ctx, ratelimit.PostsAPI, rateLimited.ResetAt); err != nil {
				return Idle, err
			}
			if err := w.broker.Add(ctx, broker.ReqScrape, userID); err != nil {
				return Idle, err
			}
			return Wait, nil
		}

		if err := recordFailure(ctx, w.broker, w.logger, broker.StageScrape, userID, userID, w.maxAttempts, err, w.metrics.DeadLettered); err != nil {
			return Idle, err
		}
		return Processed, nil
	}

	if err := w.broker.ClearAttempt(ctx, broker.AttemptsKey(broker.StageScrape), userID); err != nil {
		return Idle, err
	}

	if len(posts) == 0 {
		payload, err := broker.EncodePost(broker.Post{UserID: userID})
		if err != nil {
			return Idle, err
		}
		if err := w.broker.PushTail(ctx, broker.ResScrape, payload); err != nil {
			return Idle, err
		}
		return Processed, nil
	}

	for _, p := range posts {
		payload, err := broker.EncodePost(broker.Post{ID: p.ID, UserID: userID, CreatedAt: p.CreatedAt, Text: p.Text})
		if err != nil {
			return Idle, err
		}
		if err := w.broker.PushTail(ctx, broker.ResScrape, payload); err != nil {
			return Idle, err
		}
	}
	return Processed, nil
}

// recordOutcome bumps the wait/processed counters for the final outcome of
// a Step call, once it's known the step didn't itself error out.
func (w *ScrapeWorker) recordOutcome(outcome *Outcome, stepErr *error) {
	if *stepErr != nil {
		return
	}
	switch *outcome {
	case Wait:
		if w.metrics.Wait != nil {
			w.metrics.Wait.WithLabelValues(broker.StageScrape).Inc()
		}
	case Processed:
		if w.metrics.Processed != nil {
			w.metrics.Processed.WithLabelValues(broker.StageScrape).Inc()
		}
	}
}
