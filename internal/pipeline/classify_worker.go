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

// ClassifyWorker pulls classification requests off req.classify and assigns
// topic categories to them (spec.md §4.7). Same shape as EntityWorker,
// except InvalidArgument from the NLP port is treated as a successful,
// empty-category result rather than a retryable failure.
type ClassifyWorker struct {
	broker      Broker
	registry    *ratelimit.Registry
	nlp         nlp.Port
	logger      *slog.Logger
	backoff     time.Duration
	maxAttempts int
	metrics     WorkerMetrics
}

// NewClassifyWorker creates a ClassifyWorker.
func NewClassifyWorker(br Broker, registry *ratelimit.Registry, nlpClient nlp.Port, logger *slog.Logger, backoff time.Duration, maxAttempts int, metrics WorkerMetrics) *ClassifyWorker {
	return &ClassifyWorker{broker: br, registry: registry, nlp: nlpClient, logger: logger, backoff: backoff, maxAttempts: maxAttempts, metrics: metrics}
}

// Step runs one loop iteration of spec.md §4.7.
func (w *ClassifyWorker) Step(ctx context.Context) (outcome Outcome, err error) {
	defer w.recordOutcome(&outcome, &err)

	wait, err := w.registry.TimeUntilReset(ctx, ratelimit.NLPAPI)
	if err != nil {
		return Idle, err
	}
	if wait > 0 {
		return Wait, nil
	}

	payload, ok, err := w.broker.PopHead(ctx, brk.ReqClassify)
	if err != nil {
		return Idle, err
	}
	if !ok {
		return Idle, nil
	}

	req, err := brk.DecodeClassificationRequest(payload)
	if err != nil {
		return Idle, err
	}

	categories, err := w.nlp.ClassifyText(ctx, req.Text)
	if err != nil {
		var rateLimited *nlp.RateLimited
		if errors.As(err, &rateLimited) {
			if err := w.broker.PushHead(ctx, brk.ReqClassify, payload); err != nil {
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

		var invalid *nlp.InvalidArgument
		if errors.As(err, &invalid) {
			return w.emitResult(ctx, req, nil)
		}

		if err := recordFailure(ctx, w.broker, w.logger, brk.StageClassify, req.UserID+":"+req.EntityName, payload, w.maxAttempts, err, w.metrics.DeadLettered); err != nil {
			return Idle, err
		}
		return Processed, nil
	}

	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	return w.emitResult(ctx, req, names)
}

// recordOutcome bumps the wait/processed counters for the final outcome of
// a Step call, once it's known the step didn't itself error out.
func (w *ClassifyWorker) recordOutcome(outcome *Outcome, stepErr *error) {
	if *stepErr != nil {
		return
	}
	switch *outcome {
	case Wait:
		if w.metrics.Wait != nil {
			w.metrics.Wait.WithLabelValues(brk.StageClassify).Inc()
		}
	case Processed:
		if w.metrics.Processed != nil {
			w.metrics.Processed.WithLabelValues(brk.StageClassify).Inc()
		}
	}
}

func (w *ClassifyWorker) emitResult(ctx context.Context, req brk.ClassificationRequest, categories []string) (Outcome, error) {
	if err := w.broker.ClearAttempt(ctx, brk.AttemptsKey(brk.StageClassify), req.UserID+":"+req.EntityName); err != nil {
		return Idle, err
	}

	payload, err := brk.EncodeClassificationResult(brk.ClassificationResult{
		UserID:     req.UserID,
		PostIDs:    req.PostIDs,
		Categories: categories,
	})
	if err != nil {
		return Idle, err
	}
	if err := w.broker.PushTail(ctx, brk.ResClassify, payload); err != nil {
		return Idle, err
	}
	return Processed, nil
}
