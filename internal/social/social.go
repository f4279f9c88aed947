// Package social is the Posts-API port: the abstract boundary between the
// pipeline and the external social platform the scrape worker and
// discoverer call into.
package social

import (
	"context"
	"time"
)

// User is an account as returned by the posts API, not yet persisted.
type User struct {
	ID          string
	Username    string
	Name        string
	URL         *string
	Description *string
	Verified    bool
	Protected   bool
}

// Post is a single scraped post, not yet persisted.
type Post struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Text      string
}

// Port is the abstract posts-API surface the pipeline calls into. The
// concrete adapter lives in HTTPClient; tests use Fake.
type Port interface {
	// GetUserTweets returns up to limit of the user's most recent posts.
	GetUserTweets(ctx context.Context, userID string, limit int) ([]Post, error)

	// IterateFollowing calls yield once per account the user follows,
	// paginating internally, stopping early if yield returns false.
	IterateFollowing(ctx context.Context, userID string, yield func(User) bool) error

	// GetUserByUsername looks a user up by handle. ok is false if no such
	// user exists.
	GetUserByUsername(ctx context.Context, username string) (u User, ok bool, err error)
}
