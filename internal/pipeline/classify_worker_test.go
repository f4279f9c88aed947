package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/nlp"
)

// S5 at the worker level: an InvalidArgument error from the NLP port is
// treated as a successful, empty-category result rather than a retryable
// failure, and the post ids still advance.
func TestClassifyWorker_InvalidArgument_EmitsEmptyCategories(t *testing.T) {
	fb := newFakeBroker()
	ctx := context.Background()

	req := broker.ClassificationRequest{UserID: "u1", EntityName: "E1", PostIDs: []string{"p1"}, Text: "??"}
	payload, err := broker.EncodeClassificationRequest(req)
	if err != nil {
		t.Fatalf("EncodeClassificationRequest: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ReqClassify, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}

	fake := nlp.NewFake()
	fake.InvalidArgs["??"] = true

	reg := newInMemoryRegistry()
	w := NewClassifyWorker(fb, reg, fake, discardLogger(), 30*time.Second, 3, WorkerMetrics{})

	outcome, err := w.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Processed {
		t.Errorf("Step() outcome = %v, want Processed", outcome)
	}

	resPayload, ok, err := fb.PopHead(ctx, broker.ResClassify)
	if err != nil || !ok {
		t.Fatalf("expected one res.classify entry, ok=%v err=%v", ok, err)
	}
	result, err := broker.DecodeClassificationResult(resPayload)
	if err != nil {
		t.Fatalf("DecodeClassificationResult: %v", err)
	}
	if result.UserID != "u1" || len(result.PostIDs) != 1 || result.PostIDs[0] != "p1" {
		t.Errorf("DecodeClassificationResult() = %+v, want UserID=u1 PostIDs=[p1]", result)
	}
	if len(result.Categories) != 0 {
		t.Errorf("Categories = %v, want empty", result.Categories)
	}
}

// A RateLimited error re-queues the request at the head and returns Wait.
func TestClassifyWorker_RateLimited_ReQueuesAtHead(t *testing.T) {
	fb := newFakeBroker()
	ctx := context.Background()

	req := broker.ClassificationRequest{UserID: "u1", EntityName: "E1", PostIDs: []string{"p1"}, Text: "hello"}
	payload, err := broker.EncodeClassificationRequest(req)
	if err != nil {
		t.Fatalf("EncodeClassificationRequest: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ReqClassify, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}

	fake := nlp.NewFake()
	resetAt := time.Now().Add(45 * time.Second)
	fake.RateLimitErr = &nlp.RateLimited{ResetAt: resetAt}

	reg := newInMemoryRegistry()
	w := NewClassifyWorker(fb, reg, fake, discardLogger(), 30*time.Second, 3, WorkerMetrics{})

	outcome, err := w.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Wait {
		t.Errorf("Step() outcome = %v, want Wait", outcome)
	}

	n, _ := fb.ListLen(ctx, broker.ReqClassify)
	if n != 1 {
		t.Errorf("req.classify length = %d, want 1", n)
	}
}

// Successful classification pushes a classify_result carrying every
// returned category name.
func TestClassifyWorker_Success_PushesClassificationResult(t *testing.T) {
	fb := newFakeBroker()
	ctx := context.Background()

	req := broker.ClassificationRequest{UserID: "u1", EntityName: "E1", PostIDs: []string{"p1", "p2"}, Text: "hello"}
	payload, err := broker.EncodeClassificationRequest(req)
	if err != nil {
		t.Fatalf("EncodeClassificationRequest: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ReqClassify, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}

	fake := nlp.NewFake()
	fake.CategoriesByText["hello"] = []nlp.Category{{Name: "sports", Confidence: 0.9}}

	reg := newInMemoryRegistry()
	w := NewClassifyWorker(fb, reg, fake, discardLogger(), 30*time.Second, 3, WorkerMetrics{})

	outcome, err := w.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Processed {
		t.Errorf("Step() outcome = %v, want Processed", outcome)
	}

	resPayload, ok, err := fb.PopHead(ctx, broker.ResClassify)
	if err != nil || !ok {
		t.Fatalf("expected one res.classify entry, ok=%v err=%v", ok, err)
	}
	result, err := broker.DecodeClassificationResult(resPayload)
	if err != nil {
		t.Fatalf("DecodeClassificationResult: %v", err)
	}
	if len(result.Categories) != 1 || result.Categories[0] != "sports" {
		t.Errorf("Categories = %v, want [sports]", result.Categories)
	}
	if len(result.PostIDs) != 2 {
		t.Errorf("PostIDs = %v, want 2 entries", result.PostIDs)
	}
}
