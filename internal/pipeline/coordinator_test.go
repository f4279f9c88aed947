package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/store"
)

const rescrapeHorizon = 7 * 24 * time.Hour

// S1: a user with no posts still gets last_scraped set once the scrape
// worker's "no new posts" marker is drained, and no downstream requests
// appear.
func TestCoordinator_DrainScrape_NoNewPostsMarksScraped(t *testing.T) {
	fb := newFakeBroker()
	fs := newFakeStore()
	fs.users["u1"] = store.User{ID: "u1", Username: "u1"}

	c := NewCoordinator(fs, fb, nil, rescrapeHorizon, nil)
	ctx := context.Background()

	payload, err := broker.EncodePost(broker.Post{UserID: "u1"})
	if err != nil {
		t.Fatalf("EncodePost: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ResScrape, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}
	if err := fb.Add(ctx, broker.UsersInFlight, "u1"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := c.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if fs.users["u1"].LastScraped == nil {
		t.Error("expected u1.LastScraped to be set")
	}
	if inFlight, _ := fb.IsMember(ctx, broker.UsersInFlight, "u1"); inFlight {
		t.Error("expected u1 removed from users_in_flight")
	}

	n, _ := fb.ListLen(ctx, broker.ReqEntity)
	if n != 0 {
		t.Errorf("req.entity length = %d, want 0", n)
	}
}

// S4: ten analyzed posts split 5/5 across two entities partition into
// exactly two classification requests.
func TestCoordinator_EnqueueClassify_PartitionsByEntity(t *testing.T) {
	fb := newFakeBroker()
	fs := newFakeStore()
	fs.users["u1"] = store.User{ID: "u1", Username: "u1"}

	for i := 0; i < 10; i++ {
		id := "p" + string(rune('0'+i))
		entity := "E1"
		if i >= 5 {
			entity = "E2"
		}
		fs.posts[id] = store.Post{ID: id, UserID: "u1", Text: "text " + id, Analyzed: true}
		fs.entitiesByPost[id] = []string{entity}
	}

	c := NewCoordinator(fs, fb, nil, rescrapeHorizon, nil)
	ctx := context.Background()

	if err := c.Enqueue(ctx); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n, _ := fb.ListLen(ctx, broker.ReqClassify)
	if n != 2 {
		t.Fatalf("req.classify length = %d, want 2", n)
	}

	seenEntities := make(map[string]int)
	for {
		payload, ok, err := fb.PopHead(ctx, broker.ReqClassify)
		if err != nil {
			t.Fatalf("PopHead: %v", err)
		}
		if !ok {
			break
		}
		req, err := broker.DecodeClassificationRequest(payload)
		if err != nil {
			t.Fatalf("DecodeClassificationRequest: %v", err)
		}
		if len(req.PostIDs) != 5 {
			t.Errorf("partition %q has %d posts, want 5", req.EntityName, len(req.PostIDs))
		}
		seenEntities[req.EntityName] = len(req.PostIDs)
	}
	if len(seenEntities) != 2 {
		t.Errorf("saw %d distinct entities, want 2", len(seenEntities))
	}
}

// S6 / property 1: two consecutive enqueue phases with no intervening
// worker activity never duplicate queue entries.
func TestCoordinator_Enqueue_IsIdempotent(t *testing.T) {
	fb := newFakeBroker()
	fs := newFakeStore()
	fs.users["u1"] = store.User{ID: "u1", Username: "u1"}
	fs.posts["p1"] = store.Post{ID: "p1", UserID: "u1", Text: "hello"}

	c := NewCoordinator(fs, fb, nil, rescrapeHorizon, nil)
	ctx := context.Background()

	if err := c.Enqueue(ctx); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	firstEntity, _ := fb.ListLen(ctx, broker.ReqEntity)
	firstScrape, _ := fb.SetLen(ctx, broker.ReqScrape)

	if err := c.Enqueue(ctx); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	secondEntity, _ := fb.ListLen(ctx, broker.ReqEntity)
	secondScrape, _ := fb.SetLen(ctx, broker.ReqScrape)

	if firstEntity != secondEntity {
		t.Errorf("req.entity length changed across repeated enqueue: %d -> %d", firstEntity, secondEntity)
	}
	if firstScrape != secondScrape {
		t.Errorf("req.scrape cardinality changed across repeated enqueue: %d -> %d", firstScrape, secondScrape)
	}
}

// S5: an invalid-argument classify result still advances posts to
// classified, producing no topic row.
func TestCoordinator_DrainClassify_EmptyCategoriesStillAdvancesPosts(t *testing.T) {
	fb := newFakeBroker()
	fs := newFakeStore()
	fs.posts["p1"] = store.Post{ID: "p1", UserID: "u1", Text: "??", Analyzed: true}

	c := NewCoordinator(fs, fb, nil, rescrapeHorizon, nil)
	ctx := context.Background()

	payload, err := broker.EncodeClassificationResult(broker.ClassificationResult{UserID: "u1", PostIDs: []string{"p1"}})
	if err != nil {
		t.Fatalf("EncodeClassificationResult: %v", err)
	}
	if err := fb.PushTail(ctx, broker.ResClassify, payload); err != nil {
		t.Fatalf("PushTail: %v", err)
	}

	if err := c.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if !fs.posts["p1"].Classified {
		t.Error("expected p1.Classified = true")
	}
	if len(fs.topics["u1"]) != 0 {
		t.Errorf("expected no topics for u1, got %v", fs.topics["u1"])
	}
}
