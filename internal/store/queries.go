package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UsersDueForScrape returns users where last_scraped is null or at least
// horizon in the past, excluding any id present in exclude (the
// users_in_flight broker set).
func (s *Store) UsersDueForScrape(ctx context.Context, now time.Time, horizon time.Duration, exclude []string) ([]User, error) {
	cutoff := now.Add(-horizon)
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, name, url, description, verified, protected, last_scraped, scraped_following
		FROM users
		WHERE (last_scraped IS NULL OR last_scraped <= $1)
		  AND NOT (id = ANY($2::text[]))
		ORDER BY id`,
		cutoff, exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users due for scrape: %w", err)
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.URL, &u.Description,
			&u.Verified, &u.Protected, &u.LastScraped, &u.ScrapedFollowing); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// PostsPendingEntity returns posts not yet analyzed, excluding any id
// present in exclude (the posts_in_flight broker set).
func (s *Store) PostsPendingEntity(ctx context.Context, exclude []string) ([]Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, created_at, text, analyzed, classified
		FROM posts
		WHERE analyzed = false
		  AND NOT (id = ANY($1::text[]))
		ORDER BY id`,
		exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("listing posts pending entity extraction: %w", err)
	}
	defer rows.Close()

	var result []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.CreatedAt, &p.Text, &p.Analyzed, &p.Classified); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// PostsPendingClassifyByUser returns, for every user with at least one
// unclassified post, the full set of that user's unclassified posts. The
// caller (the coordinator) is responsible for checking that every post in
// a group is analyzed and none is in the posts_in_flight set before
// partitioning the group into ClassificationRequests (spec.md §4.4 step 3).
func (s *Store) PostsPendingClassifyByUser(ctx context.Context) (map[string][]Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, created_at, text, analyzed, classified
		FROM posts
		WHERE classified = false
		ORDER BY user_id, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing posts pending classification: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]Post)
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.CreatedAt, &p.Text, &p.Analyzed, &p.Classified); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		result[p.UserID] = append(result[p.UserID], p)
	}
	return result, rows.Err()
}

// EntityNamesByPost returns, for each of the given post ids, the names of
// the entities linked to it. Used to partition a user's analyzed posts by
// entity before building ClassificationRequests.
func (s *Store) EntityNamesByPost(ctx context.Context, postIDs []string) (map[string][]string, error) {
	if len(postIDs) == 0 {
		return map[string][]string{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT pe.post_id, e.name
		FROM post_entities pe
		JOIN entities e ON e.id = pe.entity_id
		WHERE pe.post_id = ANY($1::text[])
		ORDER BY pe.post_id, e.name`,
		postIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("listing entity names by post: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var postID, name string
		if err := rows.Scan(&postID, &name); err != nil {
			return nil, fmt.Errorf("scanning post-entity row: %w", err)
		}
		result[postID] = append(result[postID], name)
	}
	return result, rows.Err()
}

// NextUserToDiscover returns one user whose follow-graph has not yet been
// fully paginated, or (nil, nil) if none remain.
func (s *Store) NextUserToDiscover(ctx context.Context) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, name, url, description, verified, protected, last_scraped, scraped_following
		FROM users
		WHERE scraped_following = false
		ORDER BY id
		LIMIT 1`,
	).Scan(&u.ID, &u.Username, &u.Name, &u.URL, &u.Description,
		&u.Verified, &u.Protected, &u.LastScraped, &u.ScrapedFollowing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding next user to discover: %w", err)
	}
	return &u, nil
}

// ListTopics returns every topic, for the HTTP query surface.
func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	var result []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning topic row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UsersForTopic returns the users associated with a topic by name, most
// posts first — the central query the system exists to answer.
func (s *Store) UsersForTopic(ctx context.Context, topicName string) ([]UserTopic, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ut.user_id, ut.topic_id, t.name, ut.post_count, ut.user_declared
		FROM user_topics ut
		JOIN topics t ON t.id = ut.topic_id
		WHERE t.name = $1
		ORDER BY ut.post_count DESC, ut.user_id`,
		topicName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users for topic %q: %w", topicName, err)
	}
	defer rows.Close()

	var result []UserTopic
	for rows.Next() {
		var ut UserTopic
		if err := rows.Scan(&ut.UserID, &ut.TopicID, &ut.TopicName, &ut.PostCount, &ut.UserDeclared); err != nil {
			return nil, fmt.Errorf("scanning user_topic row: %w", err)
		}
		result = append(result, ut)
	}
	return result, rows.Err()
}

// TopicsForUser returns the topics a given user is associated with.
func (s *Store) TopicsForUser(ctx context.Context, userID string) ([]UserTopic, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ut.user_id, ut.topic_id, t.name, ut.post_count, ut.user_declared
		FROM user_topics ut
		JOIN topics t ON t.id = ut.topic_id
		WHERE ut.user_id = $1
		ORDER BY ut.post_count DESC, t.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing topics for user %s: %w", userID, err)
	}
	defer rows.Close()

	var result []UserTopic
	for rows.Next() {
		var ut UserTopic
		if err := rows.Scan(&ut.UserID, &ut.TopicID, &ut.TopicName, &ut.PostCount, &ut.UserDeclared); err != nil {
			return nil, fmt.Errorf("scanning user_topic row: %w", err)
		}
		result = append(result, ut)
	}
	return result, rows.Err()
}
