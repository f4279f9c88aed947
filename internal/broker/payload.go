package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the tagged JSON envelopes carried on the result and
// request-list queues (REDESIGN FLAG 1: dynamic record types become tagged
// variants with an explicit schema on the wire, not interface{}/map[string]any).
type Kind string

const (
	KindPost                 Kind = "post"
	KindEntityResult         Kind = "entity_result"
	KindClassificationReq    Kind = "classify_request"
	KindClassificationResult Kind = "classify_result"
)

// envelope is the wire shape every payload shares: a Kind discriminator plus
// the type-specific body, marshaled inline via json.RawMessage so callers
// decode straight into a concrete struct once Kind is known.
type envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Post mirrors a scraped post on the wire, pushed to res.scrape and
// req.entity.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
}

// Entity is a single extracted entity, embedded in EntityResult.
type Entity struct {
	Name string `json:"name"`
	Type int16  `json:"type"`
}

// EntityResult mirrors the entity-extraction outcome for one post, pushed to
// res.entity.
type EntityResult struct {
	PostID   string   `json:"post_id"`
	Entities []Entity `json:"entities"`
}

// ClassificationRequest groups a user's analyzed, unclassified posts that
// share one extracted entity name, pushed to req.classify. Text is the
// concatenation of the grouped posts' text, the input to the NLP port's
// classify operation.
type ClassificationRequest struct {
	UserID     string   `json:"user_id"`
	EntityName string   `json:"entity_name"`
	PostIDs    []string `json:"post_ids"`
	Text       string   `json:"text"`
}

// ClassificationResult mirrors the classify outcome for one
// ClassificationRequest, pushed to res.classify. Categories is empty when
// the NLP port raised InvalidArgument (spec.md §4.7): the posts still
// advance to classified, just into no topic.
type ClassificationResult struct {
	UserID     string   `json:"user_id"`
	PostIDs    []string `json:"post_ids"`
	Categories []string `json:"categories"`
}

func encode(kind Kind, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling %s body: %w", kind, err)
	}
	env, err := json.Marshal(envelope{Kind: kind, Body: raw})
	if err != nil {
		return "", fmt.Errorf("marshaling %s envelope: %w", kind, err)
	}
	return string(env), nil
}

func decode(kind Kind, payload string, out any) error {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if env.Kind != kind {
		return fmt.Errorf("expected envelope kind %q, got %q", kind, env.Kind)
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("unmarshaling %s body: %w", kind, err)
	}
	return nil
}

// EncodePost serializes p for res.scrape/req.entity.
func EncodePost(p Post) (string, error) { return encode(KindPost, p) }

// DecodePost parses a payload produced by EncodePost.
func DecodePost(payload string) (Post, error) {
	var p Post
	err := decode(KindPost, payload, &p)
	return p, err
}

// EncodeEntityResult serializes r for res.entity.
func EncodeEntityResult(r EntityResult) (string, error) { return encode(KindEntityResult, r) }

// DecodeEntityResult parses a payload produced by EncodeEntityResult.
func DecodeEntityResult(payload string) (EntityResult, error) {
	var r EntityResult
	err := decode(KindEntityResult, payload, &r)
	return r, err
}

// EncodeClassificationRequest serializes r for req.classify.
func EncodeClassificationRequest(r ClassificationRequest) (string, error) {
	return encode(KindClassificationReq, r)
}

// DecodeClassificationRequest parses a payload produced by
// EncodeClassificationRequest.
func DecodeClassificationRequest(payload string) (ClassificationRequest, error) {
	var r ClassificationRequest
	err := decode(KindClassificationReq, payload, &r)
	return r, err
}

// EncodeClassificationResult serializes r for res.classify.
func EncodeClassificationResult(r ClassificationResult) (string, error) {
	return encode(KindClassificationResult, r)
}

// DecodeClassificationResult parses a payload produced by
// EncodeClassificationResult.
func DecodeClassificationResult(payload string) (ClassificationResult, error) {
	var r ClassificationResult
	err := decode(KindClassificationResult, payload, &r)
	return r, err
}
