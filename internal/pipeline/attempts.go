package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashgrove/topicwatch/internal/broker"
)

// recordFailure implements spec.md §9 Open Question 1 decision (b): a
// generic (non-rate-limit) worker failure bumps a per-record, per-stage
// consecutive-failure counter and re-queues the same record for another
// attempt. Once the counter reaches maxAttempts, the record is moved to
// that stage's dead-letter queue instead of being retried again, removed
// from the attempt hash, and left in the in-flight set so it is not
// silently re-enqueued by the coordinator — an operator re-injects it via
// -mode=requeue-dead after manual fix-up.
//
// payload is both what gets re-queued on a sub-threshold attempt and what
// gets written to the dead-letter queue on the threshold attempt: the raw
// id for req.scrape (a set of ids), the full encoded envelope for
// req.entity/req.classify (lists of requests) — the same shape each
// stage's request queue already expects.
func recordFailure(ctx context.Context, br Broker, logger *slog.Logger, stage, id, payload string, maxAttempts int, cause error, deadLetteredMetric *prometheus.CounterVec) error {
	n, err := br.IncrAttempt(ctx, broker.AttemptsKey(stage), id)
	if err != nil {
		return err
	}

	logger.Warn("worker step failed", "stage", stage, "id", id, "attempt", n, "error", cause)

	if n < int64(maxAttempts) {
		return requeue(ctx, br, stage, payload)
	}

	logger.Warn("dead-lettering record after repeated failures", "stage", stage, "id", id, "attempts", n)
	if err := br.PushDead(ctx, broker.DeadKey(stage), payload); err != nil {
		return err
	}
	if deadLetteredMetric != nil {
		deadLetteredMetric.WithLabelValues(stage).Inc()
	}
	return br.ClearAttempt(ctx, broker.AttemptsKey(stage), id)
}

// requeue pushes payload back onto stage's request queue for another
// attempt, matching that stage's queue semantics (spec.md §4.3): a set-add
// for the collapsing req.scrape, a head-push (ahead of fresh requests) for
// the FIFO req.entity/req.classify lists.
func requeue(ctx context.Context, br Broker, stage, payload string) error {
	switch stage {
	case broker.StageScrape:
		return br.Add(ctx, broker.ReqScrape, payload)
	case broker.StageEntity:
		return br.PushHead(ctx, broker.ReqEntity, payload)
	case broker.StageClassify:
		return br.PushHead(ctx, broker.ReqClassify, payload)
	default:
		return fmt.Errorf("recordFailure: unknown stage %q", stage)
	}
}
