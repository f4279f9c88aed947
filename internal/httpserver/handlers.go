package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashgrove/topicwatch/internal/store"
)

// topicResponse is the JSON shape for a single topic in GET /topics.
type topicResponse struct {
	Name string `json:"name"`
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.Store.ListTopics(r.Context())
	if err != nil {
		s.Logger.Error("listing topics", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list topics")
		return
	}

	out := make([]topicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicResponse{Name: t.Name})
	}
	Respond(w, http.StatusOK, out)
}

// userTopicResponse is the JSON shape for one (user, topic) row, shared by
// GET /topics/{name}/users and GET /users/{id}/topics.
type userTopicResponse struct {
	UserID       string `json:"user_id"`
	Topic        string `json:"topic"`
	PostCount    int    `json:"post_count"`
	UserDeclared bool   `json:"user_declared"`
}

func toUserTopicResponse(ut store.UserTopic) userTopicResponse {
	return userTopicResponse{
		UserID:       ut.UserID,
		Topic:        ut.TopicName,
		PostCount:    ut.PostCount,
		UserDeclared: ut.UserDeclared,
	}
}

func (s *Server) handleUsersForTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rows, err := s.Store.UsersForTopic(r.Context(), name)
	if err != nil {
		s.Logger.Error("listing users for topic", "topic", name, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list users for topic")
		return
	}

	out := make([]userTopicResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toUserTopicResponse(row))
	}
	Respond(w, http.StatusOK, out)
}

func (s *Server) handleTopicsForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	rows, err := s.Store.TopicsForUser(r.Context(), userID)
	if err != nil {
		s.Logger.Error("listing topics for user", "user_id", userID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list topics for user")
		return
	}

	out := make([]userTopicResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toUserTopicResponse(row))
	}
	Respond(w, http.StatusOK, out)
}

// handleEnqueueUser is a thin HTTP wrapper around the same enqueue path the
// -mode=enqueue CLI command runs: look up the account by username, then
// upsert it so the coordinator picks it up on its next scrape enqueue pass.
func (s *Server) handleEnqueueUser(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		RespondError(w, http.StatusBadRequest, "bad_request", "username query parameter is required")
		return
	}

	u, ok, err := s.Posts.GetUserByUsername(r.Context(), username)
	if err != nil {
		s.Logger.Error("looking up user by username", "username", username, "error", err)
		RespondError(w, http.StatusBadGateway, "upstream_error", "failed to look up user")
		return
	}
	if !ok {
		RespondError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}

	if err := s.Store.UpsertUser(r.Context(), store.User{
		ID: u.ID, Username: u.Username, Name: u.Name, URL: u.URL,
		Description: u.Description, Verified: u.Verified, Protected: u.Protected,
	}); err != nil {
		s.Logger.Error("upserting enqueued user", "user_id", u.ID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue user")
		return
	}

	Respond(w, http.StatusCreated, map[string]string{"id": u.ID, "username": u.Username})
}

type declareTopicRequest struct {
	Topic string `json:"topic"`
}

// handleDeclareTopic lets an operator hand-add a topic to a user outside the
// classification pipeline (store.DeclareUserTopic, user_declared = true).
func (s *Server) handleDeclareTopic(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req declareTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Topic == "" {
		RespondError(w, http.StatusBadRequest, "bad_request", "topic is required")
		return
	}

	if err := s.Store.DeclareUserTopic(r.Context(), userID, req.Topic); err != nil {
		s.Logger.Error("declaring user topic", "user_id", userID, "topic", req.Topic, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "failed to declare topic")
		return
	}

	Respond(w, http.StatusCreated, map[string]string{"user_id": userID, "topic": req.Topic})
}
