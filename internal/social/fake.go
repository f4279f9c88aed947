package social

import (
	"context"
)

// Fake is an in-memory Port used by pipeline tests in place of a live
// posts-API adapter.
type Fake struct {
	Tweets        map[string][]Post
	Following     map[string][]User
	Users         map[string]User
	RateLimitErr  *RateLimited
	TweetsErr     map[string]error
	FollowingErr  map[string]error
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Tweets:       make(map[string][]Post),
		Following:    make(map[string][]User),
		Users:        make(map[string]User),
		TweetsErr:    make(map[string]error),
		FollowingErr: make(map[string]error),
	}
}

// GetUserTweets returns up to limit of the fake's canned tweets for userID.
func (f *Fake) GetUserTweets(ctx context.Context, userID string, limit int) ([]Post, error) {
	if f.RateLimitErr != nil {
		return nil, f.RateLimitErr
	}
	if err := f.TweetsErr[userID]; err != nil {
		return nil, err
	}
	posts := f.Tweets[userID]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// IterateFollowing yields the fake's canned follow-graph for userID.
func (f *Fake) IterateFollowing(ctx context.Context, userID string, yield func(User) bool) error {
	if f.RateLimitErr != nil {
		return f.RateLimitErr
	}
	if err := f.FollowingErr[userID]; err != nil {
		return err
	}
	for _, u := range f.Following[userID] {
		if !yield(u) {
			break
		}
	}
	return nil
}

// GetUserByUsername looks up a user by handle among the fake's canned
// users.
func (f *Fake) GetUserByUsername(ctx context.Context, username string) (User, bool, error) {
	for _, u := range f.Users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

var _ Port = (*Fake)(nil)
