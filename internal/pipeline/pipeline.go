// Package pipeline is the coordinator-mediated staged work-queue: the
// scrape, entity and classify workers, the discoverer, and the coordinator
// that drains their results into the store and enqueues fresh requests.
package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashgrove/topicwatch/internal/store"
)

// Outcome is a worker's per-step report, the WAIT / IDLE / CONTINUE
// vocabulary of spec.md §7 renamed Processed for the success case.
type Outcome int

const (
	// Wait means the worker is rate-limited and should back off.
	Wait Outcome = iota
	// Idle means there was no work available.
	Idle
	// Processed means a record was popped and handled (successfully,
	// dead-lettered, or dropped after a non-fatal error).
	Processed
)

func (o Outcome) String() string {
	switch o {
	case Wait:
		return "wait"
	case Idle:
		return "idle"
	case Processed:
		return "processed"
	default:
		return "unknown"
	}
}

// WorkerMetrics bundles the optional Prometheus collectors a worker role
// reports to, injected from internal/telemetry the way the teacher's
// escalation.Engine takes its metric as a constructor argument rather than
// importing the metrics package directly. Any nil field disables that
// particular recording, matching the teacher's nil-safe metric convention.
type WorkerMetrics struct {
	Wait         *prometheus.CounterVec // rate_limit_wait_total{role}
	Processed    *prometheus.CounterVec // records_processed_total{role}
	DeadLettered *prometheus.CounterVec // records_dead_lettered_total{stage}
}

// Notifier is the pipeline's observability hook, implemented by
// internal/notify.SlackNotifier. A nil Notifier is valid and means no
// notifications are sent.
type Notifier interface {
	NotifyDiscovered(ctx context.Context, userID, username string)
	NotifyNewTopic(ctx context.Context, userID, topic string)
}

// Broker is the subset of *broker.Broker the coordinator and workers call.
// Depending on this interface rather than the concrete type lets tests
// substitute an in-memory fake instead of a live Redis instance.
type Broker interface {
	PushTail(ctx context.Context, q, value string) error
	PushHead(ctx context.Context, q, value string) error
	PopHead(ctx context.Context, q string) (value string, ok bool, err error)
	Add(ctx context.Context, s, member string) error
	Remove(ctx context.Context, s, member string) error
	IsMember(ctx context.Context, s, member string) (bool, error)
	PopArbitrary(ctx context.Context, s string) (member string, ok bool, err error)
	Members(ctx context.Context, s string) ([]string, error)
	ListLen(ctx context.Context, q string) (int64, error)
	SetLen(ctx context.Context, s string) (int64, error)
	IncrAttempt(ctx context.Context, h, id string) (int64, error)
	ClearAttempt(ctx context.Context, h, id string) error
	PushDead(ctx context.Context, q, payload string) error
	ListDead(ctx context.Context, q string) ([]string, error)
}

// Store is the subset of *store.Store the coordinator and discoverer call.
type Store interface {
	UpsertUser(ctx context.Context, u store.User) error
	AddPost(ctx context.Context, p store.Post) error
	MarkScraped(ctx context.Context, userID string, now time.Time) error
	SetScrapedFollowing(ctx context.Context, userID string) error
	RecordEntities(ctx context.Context, postID string, entities []store.Entity) error
	RecordClassification(ctx context.Context, userID string, categories []string, postIDs []string) (newTopics []string, err error)
	UsersDueForScrape(ctx context.Context, now time.Time, horizon time.Duration, exclude []string) ([]store.User, error)
	PostsPendingEntity(ctx context.Context, exclude []string) ([]store.Post, error)
	PostsPendingClassifyByUser(ctx context.Context) (map[string][]store.Post, error)
	EntityNamesByPost(ctx context.Context, postIDs []string) (map[string][]string, error)
	NextUserToDiscover(ctx context.Context) (*store.User, error)
}
