// Package store is the sole-writer persistence layer for topicwatch: users,
// posts, extracted entities, topics, and the user→topic associations they
// accumulate into. Every write here is idempotent — callers (the
// coordinator) may safely replay a drained result against the store more
// than once.
package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// User mirrors the users table.
type User struct {
	ID               string
	Username         string
	Name             string
	URL              *string
	Description      *string
	Verified         bool
	Protected        bool
	LastScraped      *time.Time
	ScrapedFollowing bool
}

// Post mirrors the posts table.
type Post struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	Text       string
	Analyzed   bool
	Classified bool
}

// Entity mirrors the entities table. Type is a small integer code (spec.md
// §9 Open Question 3, fixed as int16 — not the string representation some
// versions of the original prototype used).
type Entity struct {
	ID   int64
	Name string
	Type int16
}

// Topic mirrors the topics table.
type Topic struct {
	ID   int64
	Name string
}

// UserTopic mirrors a row of the user_topics accumulator.
type UserTopic struct {
	UserID        string
	TopicID       int64
	TopicName     string
	PostCount     int
	UserDeclared  bool
}

// Store is the single-writer persistence layer, backed by Postgres. Reads
// (by the HTTP query surface, or by tests) may run concurrently; every
// write path here is meant to be called exclusively by the coordinator.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
