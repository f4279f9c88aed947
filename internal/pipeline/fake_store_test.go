package pipeline

import (
	"context"
	"time"

	"github.com/ashgrove/topicwatch/internal/store"
)

// fakeStore is an in-memory stand-in for *store.Store, used so pipeline
// tests can exercise the coordinator and discoverer without a live
// Postgres instance.
type fakeStore struct {
	users              map[string]store.User
	posts              map[string]store.Post
	entitiesByPost     map[string][]string // post id -> entity names
	topics             map[string]map[string]int // user id -> topic name -> post_count
	newUserTopic       map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:          make(map[string]store.User),
		posts:          make(map[string]store.Post),
		entitiesByPost: make(map[string][]string),
		topics:         make(map[string]map[string]int),
	}
}

func (f *fakeStore) UpsertUser(ctx context.Context, u store.User) error {
	if _, exists := f.users[u.ID]; !exists {
		f.users[u.ID] = u
	}
	return nil
}

func (f *fakeStore) AddPost(ctx context.Context, p store.Post) error {
	if _, exists := f.posts[p.ID]; !exists {
		f.posts[p.ID] = p
	}
	return nil
}

func (f *fakeStore) MarkScraped(ctx context.Context, userID string, now time.Time) error {
	u := f.users[userID]
	u.LastScraped = &now
	f.users[userID] = u
	return nil
}

func (f *fakeStore) SetScrapedFollowing(ctx context.Context, userID string) error {
	u := f.users[userID]
	u.ScrapedFollowing = true
	f.users[userID] = u
	return nil
}

func (f *fakeStore) RecordEntities(ctx context.Context, postID string, entities []store.Entity) error {
	for _, e := range entities {
		f.entitiesByPost[postID] = append(f.entitiesByPost[postID], e.Name)
	}
	p := f.posts[postID]
	p.Analyzed = true
	f.posts[postID] = p
	return nil
}

func (f *fakeStore) RecordClassification(ctx context.Context, userID string, categories []string, postIDs []string) ([]string, error) {
	if f.topics[userID] == nil {
		f.topics[userID] = make(map[string]int)
	}
	var newTopics []string
	for _, cat := range categories {
		if _, exists := f.topics[userID][cat]; !exists {
			newTopics = append(newTopics, cat)
		}
		f.topics[userID][cat] += len(postIDs)
	}
	for _, id := range postIDs {
		p := f.posts[id]
		p.Classified = true
		f.posts[id] = p
	}
	return newTopics, nil
}

func (f *fakeStore) UsersDueForScrape(ctx context.Context, now time.Time, horizon time.Duration, exclude []string) ([]store.User, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var out []store.User
	for _, u := range f.users {
		if excluded[u.ID] {
			continue
		}
		if u.LastScraped == nil || u.LastScraped.Add(horizon).Before(now) || u.LastScraped.Add(horizon).Equal(now) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) PostsPendingEntity(ctx context.Context, exclude []string) ([]store.Post, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var out []store.Post
	for _, p := range f.posts {
		if !p.Analyzed && !excluded[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) PostsPendingClassifyByUser(ctx context.Context) (map[string][]store.Post, error) {
	out := make(map[string][]store.Post)
	for _, p := range f.posts {
		if !p.Classified {
			out[p.UserID] = append(out[p.UserID], p)
		}
	}
	return out, nil
}

func (f *fakeStore) EntityNamesByPost(ctx context.Context, postIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, id := range postIDs {
		out[id] = f.entitiesByPost[id]
	}
	return out, nil
}

func (f *fakeStore) NextUserToDiscover(ctx context.Context) (*store.User, error) {
	for _, u := range f.users {
		if !u.ScrapedFollowing {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

var _ Store = (*fakeStore)(nil)
