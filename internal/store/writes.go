package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertUser inserts u if no user with that id exists yet. An existing row
// is left unchanged — re-discovering a known user is a no-op, per
// invariant 4 in spec.md §3 (last_scraped is only ever advanced by the
// scrape drain, never reset by a re-discovery).
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, name, url, description, verified, protected)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.Name, u.URL, u.Description, u.Verified, u.Protected,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

// AddPost inserts p if no post with that id exists yet; a duplicate insert
// (the scrape result queue is replayed after a crash) is a no-op.
func (s *Store) AddPost(ctx context.Context, p Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, user_id, created_at, text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.UserID, p.CreatedAt, p.Text,
	)
	if err != nil {
		return fmt.Errorf("adding post %s: %w", p.ID, err)
	}
	return nil
}

// MarkScraped sets last_scraped for userID. Called by the coordinator's
// scrape drain once at least one result has been durably stored for that
// user, or the scrape worker observed no new posts.
func (s *Store) MarkScraped(ctx context.Context, userID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_scraped = $2 WHERE id = $1`, userID, now)
	if err != nil {
		return fmt.Errorf("marking user %s scraped: %w", userID, err)
	}
	return nil
}

// SetScrapedFollowing marks userID's follow-graph as fully paginated.
func (s *Store) SetScrapedFollowing(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET scraped_following = true WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("marking user %s scraped_following: %w", userID, err)
	}
	return nil
}

// RecordEntities upserts the extracted entities, links them to postID, and
// marks the post analyzed — all in one transaction, satisfying invariant 1
// in spec.md §3 (analyzed is true iff every extracted entity has a
// post_entities row).
func (s *Store) RecordEntities(ctx context.Context, postID string, entities []Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning entity transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, e := range entities {
		var entityID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO entities (name, type) VALUES ($1, $2)
			ON CONFLICT (name, type) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			e.Name, e.Type,
		).Scan(&entityID)
		if err != nil {
			return fmt.Errorf("upserting entity %q: %w", e.Name, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO post_entities (post_id, entity_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			postID, entityID,
		); err != nil {
			return fmt.Errorf("linking post %s to entity %q: %w", postID, e.Name, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE posts SET analyzed = true WHERE id = $1`, postID); err != nil {
		return fmt.Errorf("marking post %s analyzed: %w", postID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing entity transaction: %w", err)
	}
	return nil
}

// RecordClassification upserts a Topic per category, accumulates post_count
// on the (user, topic) pair, and marks every listed post classified — all
// in one transaction, satisfying invariant 2 in spec.md §3.
//
// NewTopics reports, per category name, whether the (user, topic) row was
// newly created by this call — used by the notifier to announce a user's
// first appearance in a topic.
func (s *Store) RecordClassification(ctx context.Context, userID string, categories []string, postIDs []string) (newTopics []string, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning classification transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, category := range categories {
		var topicID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO topics (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			category,
		).Scan(&topicID); err != nil {
			return nil, fmt.Errorf("upserting topic %q: %w", category, err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE user_topics SET post_count = post_count + $3
			WHERE user_id = $1 AND topic_id = $2`,
			userID, topicID, len(postIDs),
		)
		if err != nil {
			return nil, fmt.Errorf("accumulating post_count for user %s topic %q: %w", userID, category, err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_topics (user_id, topic_id, post_count, user_declared)
				VALUES ($1, $2, $3, false)`,
				userID, topicID, len(postIDs),
			); err != nil {
				return nil, fmt.Errorf("creating user_topic for user %s topic %q: %w", userID, category, err)
			}
			newTopics = append(newTopics, category)
		}
	}

	for _, postID := range postIDs {
		if _, err := tx.Exec(ctx, `UPDATE posts SET classified = true WHERE id = $1`, postID); err != nil {
			return nil, fmt.Errorf("marking post %s classified: %w", postID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing classification transaction: %w", err)
	}
	return newTopics, nil
}

// DeclareUserTopic hand-adds a topic for a user (user_declared = true),
// used by the operator surface rather than the classification pipeline.
func (s *Store) DeclareUserTopic(ctx context.Context, userID, topicName string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning declare-topic transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var topicID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO topics (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		topicName,
	).Scan(&topicID); err != nil {
		return fmt.Errorf("upserting topic %q: %w", topicName, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_topics (user_id, topic_id, post_count, user_declared)
		VALUES ($1, $2, 0, true)
		ON CONFLICT (user_id, topic_id) DO UPDATE SET user_declared = true`,
		userID, topicID,
	); err != nil {
		return fmt.Errorf("declaring topic %q for user %s: %w", topicName, userID, err)
	}

	return tx.Commit(ctx)
}
