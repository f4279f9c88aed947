package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/ratelimit"
)

// Mode selects the scheduling discipline (spec.md §4.9).
type Mode int

const (
	// ModeBatch runs one coordinator-drain/enqueue/stage-drain pass to
	// completion, then returns.
	ModeBatch Mode = iota
	// ModeContinuous round-robins every role indefinitely with a small
	// fixed sleep between rounds, until the context is canceled.
	ModeContinuous
)

// Runner drives the coordinator and workers under one of the two
// scheduling disciplines.
type Runner struct {
	Coordinator *Coordinator
	Scrape      *ScrapeWorker
	Entity      *EntityWorker
	Classify    *ClassifyWorker
	Discoverer  *Discoverer
	Registry    *ratelimit.Registry
	Broker      Broker
	Logger      *slog.Logger

	Mode      Mode
	TickSleep time.Duration
}

// Run drives the pipeline until it terminates (ModeBatch) or the context is
// canceled (ModeContinuous).
func (r *Runner) Run(ctx context.Context) error {
	if r.Mode == ModeBatch {
		return r.runBatch(ctx)
	}
	return r.runContinuous(ctx)
}

// runBatch implements spec.md §4.9's batch discipline: a coordinator tick
// (drain then enqueue) feeds each stage, which is run to Idle before moving
// on, with the whole three-stage cycle repeated until a final tick leaves
// every request and result queue empty.
func (r *Runner) runBatch(ctx context.Context) error {
	for {
		if err := r.Coordinator.Tick(ctx); err != nil {
			return err
		}
		if err := r.runStageToIdle(ctx, ratelimit.PostsAPI, r.Scrape.Step); err != nil {
			return err
		}

		if err := r.Coordinator.Tick(ctx); err != nil {
			return err
		}
		if err := r.runStageToIdle(ctx, ratelimit.NLPAPI, r.Entity.Step); err != nil {
			return err
		}

		if err := r.Coordinator.Tick(ctx); err != nil {
			return err
		}
		if err := r.runStageToIdle(ctx, ratelimit.NLPAPI, r.Classify.Step); err != nil {
			return err
		}

		if err := r.Coordinator.Tick(ctx); err != nil {
			return err
		}
		done, err := r.queuesEmpty(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (r *Runner) runStageToIdle(ctx context.Context, service string, step func(context.Context) (Outcome, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := step(ctx)
		if err != nil {
			return err
		}
		switch outcome {
		case Idle:
			return nil
		case Wait:
			wait, err := r.Registry.TimeUntilReset(ctx, service)
			if err != nil {
				return err
			}
			if wait <= 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		case Processed:
			// loop again immediately
		}
	}
}

func (r *Runner) queuesEmpty(ctx context.Context) (bool, error) {
	lists := []string{broker.ResScrape, broker.ReqEntity, broker.ResEntity, broker.ReqClassify, broker.ResClassify}
	for _, q := range lists {
		n, err := r.Broker.ListLen(ctx, q)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}

	n, err := r.Broker.SetLen(ctx, broker.ReqScrape)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// runContinuous round-robins the coordinator and every role once per round,
// sleeping TickSleep between rounds, until ctx is canceled.
func (r *Runner) runContinuous(ctx context.Context) error {
	for {
		if err := r.Coordinator.Tick(ctx); err != nil {
			return err
		}

		if _, err := r.Scrape.Step(ctx); err != nil {
			r.Logger.Error("scrape worker step failed", "error", err)
		}
		if _, err := r.Entity.Step(ctx); err != nil {
			r.Logger.Error("entity worker step failed", "error", err)
		}
		if _, err := r.Classify.Step(ctx); err != nil {
			r.Logger.Error("classify worker step failed", "error", err)
		}
		if _, err := r.Discoverer.Step(ctx); err != nil {
			r.Logger.Error("discoverer step failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.TickSleep):
		}
	}
}
