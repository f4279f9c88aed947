package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	brk "github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/nlp"
	"github.com/ashgrove/topicwatch/internal/ratelimit"
)

// EntityWorker pulls posts off req.entity and extracts named entities from
// their text (spec.md §4.6).
type EntityWorker struct {
	broker      Broker
	registry    *ratelimit.Registry
	nlp         nlp.Port
	logger      *slog.Logger
	backoff     time.Duration
	maxAttempts int
	metrics     WorkerMetrics
}

// NewEntityWorker creates an EntityWorker. backoff is the conservative bump
// applied to the NLP registry when a rate-limit error carries no precise
// reset time (spec.md §4.6, §9 Open Question 2).
func NewEntityWorker(br Broker, registry *ratelimit.Registry, nlpClient nlp.Port, logger *slog.Logger, backoff time.Duration, maxAttempts int, metrics WorkerMetrics) *EntityWorker {
	return &EntityWorker{broker: br, registry: registry, nlp: nlpClient, logger: logger, backoff: backoff, maxAttempts: maxAttempts, metrics: metrics}
}

// Step runs one loop iteration of spec.md §4.6.
func (w *EntityWorker) Step(ctx context.Context) (outcome Outcome, err error) {
	defer w.recordOutcome(&outcome, &err)

	wait, err := w.registry.TimeUntilReset(ctx, ratelimit.NLPAPI)
	if err != nil {
		return Idle, err
	}
	if wait > 0 {
		return Wait, nil
	}

	payload, ok, err := w.broker.PopHead(ctx, brk.ReqEntity)
	if err != nil {
		return Idle, err
	}
	if !ok {
		return Idle, nil
	}

	post, err := brk.DecodePost(payload)
	if err != nil {
		return Idle, err
	}

	entities, err := w.nlp.AnalyzeEntities(ctx, post.Text)
	if err != nil {
		var rateLimited *nlp.RateLimited
		if errors.As(err, &rateLimited) {
			if err := w.broker.PushHead(ctx, brk.ReqEntity, payload); err != nil {
				return Idle, err
			}
			if rateLimited.ResetAt.IsZero() {
				if err := w.registry.BumpReset(ctx, ratelimit.NLPAPI, w.backoff); err != nil {
					return Idle, err
				}
			} else if err := w.registry.SetReset(ctx, ratelimit.NLPAPI, rateLimited.ResetAt); err != nil {
				return Idle, err
			}
			return Wait, nil
		}

		if err := recordFailure(ctx, w.broker, w.logger, brk.StageEntity, post.ID, payload, w.maxAttempts, err, w.metrics.DeadLettered); err != nil {
			return Idle, err
		}
		return Processed, nil
	}

	if err := w.broker.ClearAttempt(ctx, brk.AttemptsKey(brk.StageEntity), post.ID); err != nil {
		return Idle, err
	}

	wireEntities := make([]brk.Entity, 0, len(entities))
	for _, e := range entities {
		wireEntities = append(wireEntities, brk.Entity{Name: e.Name, Type: e.Type})
	}

	resultPayload, err := brk.EncodeEntityResult(brk.EntityResult{PostID: post.ID, Entities: wireEntities})
	if err != nil {
		return Idle, err
	}
	if err := w.broker.PushTail(ctx, brk.ResEntity, resultPayload); err != nil {
		return Idle, err
	}
	return Processed, nil
}

// recordOutcome bumps the wait/processed counters for the final outcome of
// a Step call, once it's known the step didn't itself error out.
func (w *EntityWorker) recordOutcome(outcome *Outcome, stepErr *error) {
	if *stepErr != nil {
		return
	}
	switch *outcome {
	case Wait:
		if w.metrics.Wait != nil {
			w.metrics.Wait.WithLabelValues(brk.StageEntity).Inc()
		}
	case Processed:
		if w.metrics.Processed != nil {
			w.metrics.Processed.WithLabelValues(brk.StageEntity).Inc()
		}
	}
}
