package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashgrove/topicwatch/internal/social"
	"github.com/ashgrove/topicwatch/internal/store"
)

type fakeStore struct {
	topics       []store.Topic
	usersByTopic map[string][]store.UserTopic
	topicsByUser map[string][]store.UserTopic
	upserted     map[string]store.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByTopic: make(map[string][]store.UserTopic),
		topicsByUser: make(map[string][]store.UserTopic),
		upserted:     make(map[string]store.User),
	}
}

func (f *fakeStore) ListTopics(ctx context.Context) ([]store.Topic, error) {
	return f.topics, nil
}

func (f *fakeStore) UsersForTopic(ctx context.Context, topicName string) ([]store.UserTopic, error) {
	return f.usersByTopic[topicName], nil
}

func (f *fakeStore) TopicsForUser(ctx context.Context, userID string) ([]store.UserTopic, error) {
	return f.topicsByUser[userID], nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, u store.User) error {
	f.upserted[u.ID] = u
	return nil
}

var _ Store = (*fakeStore)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// routerOnly builds a chi router carrying just the routes under test,
// bypassing NewServer's DB/Redis readiness dependencies.
func routerOnly(st Store, posts social.Port) *Server {
	s := &Server{
		Router: chi.NewRouter(),
		Logger: discardLogger(),
		Store:  st,
		Posts:  posts,
	}
	s.Router.Get("/topics", s.handleListTopics)
	s.Router.Get("/topics/{name}/users", s.handleUsersForTopic)
	s.Router.Get("/users/{id}/topics", s.handleTopicsForUser)
	s.Router.Post("/users", s.handleEnqueueUser)
	return s
}

func TestHandleListTopics(t *testing.T) {
	st := newFakeStore()
	st.topics = []store.Topic{{ID: 1, Name: "sports"}, {ID: 2, Name: "politics"}}
	s := routerOnly(st, social.NewFake())

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []topicResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(out) != 2 || out[0].Name != "sports" {
		t.Errorf("topics = %+v, want [sports politics]", out)
	}
}

func TestHandleUsersForTopic(t *testing.T) {
	st := newFakeStore()
	st.usersByTopic["sports"] = []store.UserTopic{{UserID: "u1", TopicName: "sports", PostCount: 4}}
	s := routerOnly(st, social.NewFake())

	req := httptest.NewRequest(http.MethodGet, "/topics/sports/users", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []userTopicResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(out) != 1 || out[0].UserID != "u1" || out[0].PostCount != 4 {
		t.Errorf("users = %+v, want one row for u1 with post_count 4", out)
	}
}

func TestHandleEnqueueUser_NotFound(t *testing.T) {
	st := newFakeStore()
	s := routerOnly(st, social.NewFake())

	req := httptest.NewRequest(http.MethodPost, "/users?username=ghost", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleEnqueueUser_Success(t *testing.T) {
	st := newFakeStore()
	fake := social.NewFake()
	fake.Users["u1"] = social.User{ID: "u1", Username: "alice"}
	s := routerOnly(st, fake)

	req := httptest.NewRequest(http.MethodPost, "/users?username=alice", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if _, ok := st.upserted["u1"]; !ok {
		t.Error("expected u1 to be upserted")
	}
}

func TestHandleEnqueueUser_MissingUsername(t *testing.T) {
	st := newFakeStore()
	s := routerOnly(st, social.NewFake())

	req := httptest.NewRequest(http.MethodPost, "/users", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
