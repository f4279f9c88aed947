package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/nlp"
)

// A RateLimited error with no precise reset falls back to the worker's
// configured backoff, re-queues the post at the head, and returns Wait.
func TestEntityWorker_RateLimited_FallsBackToBackoff(t *testing.T) {
	fb := newFakeBroker()
	ctx := context.Background()

	payload, err := broker.EncodePost(broker.Post{ID: "p1", UserID: "u1", Text: "hello"})
	if err != nil {
		t.Fatalf("EncodePost: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ReqEntity, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}

	fake := nlp.NewFake()
	fake.RateLimitErr = &nlp.RateLimited{}

	reg := newInMemoryRegistry()
	w := NewEntityWorker(fb, reg, fake, discardLogger(), 30*time.Second, 3, WorkerMetrics{})

	outcome, err := w.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Wait {
		t.Errorf("Step() outcome = %v, want Wait", outcome)
	}

	n, _ := fb.ListLen(ctx, broker.ReqEntity)
	if n != 1 {
		t.Errorf("req.entity length = %d, want 1", n)
	}

	wait, err := reg.TimeUntilReset(ctx, "nlp_api")
	if err != nil {
		t.Fatalf("TimeUntilReset: %v", err)
	}
	if wait <= 0 {
		t.Error("expected TimeUntilReset > 0 after fallback backoff")
	}
}

// A successful analysis pushes one entity_result per extracted entity and
// clears the post's attempt counter.
func TestEntityWorker_Success_PushesEntityResult(t *testing.T) {
	fb := newFakeBroker()
	ctx := context.Background()

	payload, err := broker.EncodePost(broker.Post{ID: "p1", UserID: "u1", Text: "hello world"})
	if err != nil {
		t.Fatalf("EncodePost: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ReqEntity, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}

	fake := nlp.NewFake()
	fake.EntitiesByText["hello world"] = []nlp.Entity{{Name: "Go", Type: 1}}

	reg := newInMemoryRegistry()
	w := NewEntityWorker(fb, reg, fake, discardLogger(), 30*time.Second, 3, WorkerMetrics{})

	outcome, err := w.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Processed {
		t.Errorf("Step() outcome = %v, want Processed", outcome)
	}

	resPayload, ok, err := fb.PopHead(ctx, broker.ResEntity)
	if err != nil || !ok {
		t.Fatalf("expected one res.entity entry, ok=%v err=%v", ok, err)
	}
	result, err := broker.DecodeEntityResult(resPayload)
	if err != nil {
		t.Fatalf("DecodeEntityResult: %v", err)
	}
	if result.PostID != "p1" || len(result.Entities) != 1 || result.Entities[0].Name != "Go" {
		t.Errorf("DecodeEntityResult() = %+v, want PostID=p1 with one Go entity", result)
	}
}

// Non-rate-limit failures dead-letter after maxAttempts consecutive tries.
func TestEntityWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	fb := newFakeBroker()
	ctx := context.Background()

	fake := nlp.NewFake()

	reg := newInMemoryRegistry()
	w := NewEntityWorker(fb, reg, fake, discardLogger(), 30*time.Second, 2, WorkerMetrics{})

	payload, err := broker.EncodePost(broker.Post{ID: "p1", UserID: "u1", Text: "bad"})
	if err != nil {
		t.Fatalf("EncodePost: %v", err)
	}

	// Fake returns nil entities for unknown text, which is a valid
	// (if empty) success — force a real failure instead by swapping in a
	// port that always errors.
	failing := &failingNLP{err: errors.New("boom")}
	w.nlp = failing

	for i := 0; i < 2; i++ {
		if err := fb.PushTail(ctx, broker.ReqEntity, payload); err != nil {
			t.Fatalf("PushTail: %v", err)
		}
		if _, err := w.Step(ctx); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	dead, err := fb.ListDead(ctx, broker.DeadKey(broker.StageEntity))
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(dead) != 1 {
		t.Errorf("dead.entity = %v, want 1 entry", dead)
	}
}

type failingNLP struct{ err error }

func (f *failingNLP) AnalyzeEntities(ctx context.Context, text string) ([]nlp.Entity, error) {
	return nil, f.err
}

func (f *failingNLP) ClassifyText(ctx context.Context, text string) ([]nlp.Category, error) {
	return nil, f.err
}
