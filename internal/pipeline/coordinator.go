package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashgrove/topicwatch/internal/broker"
	"github.com/ashgrove/topicwatch/internal/store"
)

// Coordinator is the single writer to the Store. It drains results produced
// by the workers into the Store, then enqueues fresh requests from the
// Store's current state. It is never sharded — exactly one Coordinator runs
// per deployment.
type Coordinator struct {
	store         Store
	broker        Broker
	notifier      Notifier
	rescrapeAfter time.Duration
	now           func() time.Time
	queueDepth    *prometheus.GaugeVec
}

// NewCoordinator creates a Coordinator. notifier may be nil. queueDepth may
// be nil, disabling queue-depth sampling.
func NewCoordinator(st Store, br Broker, notifier Notifier, rescrapeAfter time.Duration, queueDepth *prometheus.GaugeVec) *Coordinator {
	return &Coordinator{
		store:         st,
		broker:        br,
		notifier:      notifier,
		rescrapeAfter: rescrapeAfter,
		now:           time.Now,
		queueDepth:    queueDepth,
	}
}

// Tick runs one Drain followed by one Enqueue, spec.md §4.9's
// "Drain (results → store)" then "Enqueue (store → requests)" sequencing,
// then samples every broker queue/set's depth into QueueDepth.
func (c *Coordinator) Tick(ctx context.Context) error {
	if err := c.Drain(ctx); err != nil {
		return err
	}
	if err := c.Enqueue(ctx); err != nil {
		return err
	}
	return c.sampleQueueDepths(ctx)
}

// sampleQueueDepths reports the current size of every named queue/set in
// spec.md §4.3's table, for the "Queue depths" observability surface
// DESIGN.md cites in place of distributed tracing.
func (c *Coordinator) sampleQueueDepths(ctx context.Context) error {
	if c.queueDepth == nil {
		return nil
	}

	lists := []string{broker.ResScrape, broker.ReqEntity, broker.ResEntity, broker.ReqClassify, broker.ResClassify}
	for _, q := range lists {
		n, err := c.broker.ListLen(ctx, q)
		if err != nil {
			return fmt.Errorf("sampling depth of %s: %w", q, err)
		}
		c.queueDepth.WithLabelValues(q).Set(float64(n))
	}

	sets := []string{broker.ReqScrape, broker.UsersInFlight, broker.PostsInFlight}
	for _, s := range sets {
		n, err := c.broker.SetLen(ctx, s)
		if err != nil {
			return fmt.Errorf("sampling depth of %s: %w", s, err)
		}
		c.queueDepth.WithLabelValues(s).Set(float64(n))
	}

	return nil
}

// Drain applies every pending result to the store, in the fixed order
// scrape → entity → classify (spec.md §4.4): classify requests are built
// from analyzed posts, analyzed is set by the entity drain, and
// last_scraped is set by the scrape drain and gates re-scraping.
func (c *Coordinator) Drain(ctx context.Context) error {
	if err := c.drainScrape(ctx); err != nil {
		return fmt.Errorf("draining scrape results: %w", err)
	}
	if err := c.drainEntity(ctx); err != nil {
		return fmt.Errorf("draining entity results: %w", err)
	}
	if err := c.drainClassify(ctx); err != nil {
		return fmt.Errorf("draining classify results: %w", err)
	}
	return nil
}

// drainScrape applies every queued scrape result. A Post with an empty ID
// is the scrape worker's "no new posts" completion marker (spec.md §3
// invariant 4: last_scraped advances either when a post is durably stored
// or when the scraper observes no new posts) — it carries no row to insert
// but still advances last_scraped for its UserID.
func (c *Coordinator) drainScrape(ctx context.Context) error {
	for {
		payload, ok, err := c.broker.PopHead(ctx, broker.ResScrape)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		p, err := broker.DecodePost(payload)
		if err != nil {
			return err
		}

		if p.ID != "" {
			if err := c.store.AddPost(ctx, store.Post{ID: p.ID, UserID: p.UserID, CreatedAt: p.CreatedAt, Text: p.Text}); err != nil {
				return err
			}
		}
		if err := c.store.MarkScraped(ctx, p.UserID, c.now()); err != nil {
			return err
		}
		if err := c.broker.Remove(ctx, broker.UsersInFlight, p.UserID); err != nil {
			return err
		}
	}
}

func (c *Coordinator) drainEntity(ctx context.Context) error {
	for {
		payload, ok, err := c.broker.PopHead(ctx, broker.ResEntity)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		r, err := broker.DecodeEntityResult(payload)
		if err != nil {
			return err
		}

		entities := make([]store.Entity, 0, len(r.Entities))
		for _, e := range r.Entities {
			entities = append(entities, store.Entity{Name: e.Name, Type: e.Type})
		}
		if err := c.store.RecordEntities(ctx, r.PostID, entities); err != nil {
			return err
		}
		if err := c.broker.Remove(ctx, broker.PostsInFlight, r.PostID); err != nil {
			return err
		}
	}
}

func (c *Coordinator) drainClassify(ctx context.Context) error {
	for {
		payload, ok, err := c.broker.PopHead(ctx, broker.ResClassify)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		r, err := broker.DecodeClassificationResult(payload)
		if err != nil {
			return err
		}

		newTopics, err := c.store.RecordClassification(ctx, r.UserID, r.Categories, r.PostIDs)
		if err != nil {
			return err
		}
		for _, postID := range r.PostIDs {
			if err := c.broker.Remove(ctx, broker.PostsInFlight, postID); err != nil {
				return err
			}
		}
		if c.notifier != nil {
			for _, topic := range newTopics {
				c.notifier.NotifyNewTopic(ctx, r.UserID, topic)
			}
		}
	}
}

// Enqueue pushes fresh requests from the store's current state, in the
// fixed order users-due-for-scrape → posts-pending-entity →
// posts-pending-classify-by-user (spec.md §4.4). The exclude-set guard on
// every step makes repeated Enqueue calls idempotent.
func (c *Coordinator) Enqueue(ctx context.Context) error {
	if err := c.enqueueScrape(ctx); err != nil {
		return fmt.Errorf("enqueuing scrape requests: %w", err)
	}
	if err := c.enqueueEntity(ctx); err != nil {
		return fmt.Errorf("enqueuing entity requests: %w", err)
	}
	if err := c.enqueueClassify(ctx); err != nil {
		return fmt.Errorf("enqueuing classify requests: %w", err)
	}
	return nil
}

func (c *Coordinator) enqueueScrape(ctx context.Context) error {
	exclude, err := c.broker.Members(ctx, broker.UsersInFlight)
	if err != nil {
		return err
	}

	users, err := c.store.UsersDueForScrape(ctx, c.now(), c.rescrapeAfter, exclude)
	if err != nil {
		return err
	}

	for _, u := range users {
		if err := c.broker.Add(ctx, broker.ReqScrape, u.ID); err != nil {
			return err
		}
		if err := c.broker.Add(ctx, broker.UsersInFlight, u.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) enqueueEntity(ctx context.Context) error {
	exclude, err := c.broker.Members(ctx, broker.PostsInFlight)
	if err != nil {
		return err
	}

	posts, err := c.store.PostsPendingEntity(ctx, exclude)
	if err != nil {
		return err
	}

	for _, p := range posts {
		payload, err := broker.EncodePost(broker.Post{ID: p.ID, UserID: p.UserID, CreatedAt: p.CreatedAt, Text: p.Text})
		if err != nil {
			return err
		}
		if err := c.broker.PushTail(ctx, broker.ReqEntity, payload); err != nil {
			return err
		}
		if err := c.broker.Add(ctx, broker.PostsInFlight, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// enqueueClassify groups each user's unclassified posts by the entity names
// attached to them and emits one ClassificationRequest per (user, entity)
// partition (spec.md §4.4 step 3). A post with more than one entity appears
// in more than one partition.
func (c *Coordinator) enqueueClassify(ctx context.Context) error {
	groups, err := c.store.PostsPendingClassifyByUser(ctx)
	if err != nil {
		return err
	}

	for userID, posts := range groups {
		eligible := make([]store.Post, 0, len(posts))
		for _, p := range posts {
			if !p.Analyzed {
				continue
			}
			inFlight, err := c.broker.IsMember(ctx, broker.PostsInFlight, p.ID)
			if err != nil {
				return err
			}
			if inFlight {
				continue
			}
			eligible = append(eligible, p)
		}
		if len(eligible) == 0 {
			continue
		}

		postIDs := make([]string, len(eligible))
		byID := make(map[string]store.Post, len(eligible))
		for i, p := range eligible {
			postIDs[i] = p.ID
			byID[p.ID] = p
		}

		entityNames, err := c.store.EntityNamesByPost(ctx, postIDs)
		if err != nil {
			return err
		}

		partitions := make(map[string][]string)
		for _, postID := range postIDs {
			for _, name := range entityNames[postID] {
				partitions[name] = append(partitions[name], postID)
			}
		}

		for entityName, ids := range partitions {
			texts := make([]string, len(ids))
			for i, id := range ids {
				texts[i] = byID[id].Text
			}

			req := broker.ClassificationRequest{
				UserID:     userID,
				EntityName: entityName,
				PostIDs:    ids,
				Text:       strings.Join(texts, "\n"),
			}
			payload, err := broker.EncodeClassificationRequest(req)
			if err != nil {
				return err
			}
			if err := c.broker.PushTail(ctx, broker.ReqClassify, payload); err != nil {
				return err
			}
			for _, id := range ids {
				if err := c.broker.Add(ctx, broker.PostsInFlight, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
