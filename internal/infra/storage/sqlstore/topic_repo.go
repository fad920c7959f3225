package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/infra/storage"
)

// postedLayout sorts lexically in chronological order.
const postedLayout = "2006-01-02T15:04:05.000000000Z"

// TopicRepo implements storage.TopicRepository on SQLite or PostgreSQL.
type TopicRepo struct {
	db *DB
}

var _ storage.TopicRepository = (*TopicRepo)(nil)

// NewTopicRepo creates a new SQL topic repository.
func NewTopicRepo(db *DB) *TopicRepo {
	return &TopicRepo{db: db}
}

// SelectTopic returns the lowest-id candidate that is neither recent nor excluded.
func (r *TopicRepo) SelectTopic(ctx context.Context, category string, exclude []string) (*domain.Topic, error) {
	recent, err := r.RecentTopics(ctx, storage.RecentWindow)
	if err != nil {
		return nil, err
	}

	skip := make([]string, 0, len(recent)+len(exclude))
	for name := range storage.Excluded(recent, exclude) {
		skip = append(skip, name)
	}

	query, args, err := r.selectQuery(category, skip)
	if err != nil {
		return nil, err
	}

	var t domain.Topic
	if err := r.db.GetContext(ctx, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select topic: %w", err)
	}
	t.Source = domain.TopicSourceDatabase
	return &t, nil
}

func (r *TopicRepo) selectQuery(category string, skip []string) (string, []any, error) {
	if len(skip) == 0 {
		query := `
			SELECT id, topic_name, field FROM potential_topics
			WHERE field = ?
			ORDER BY id ASC LIMIT 1
		`
		return r.db.Rebind(query), []any{category}, nil
	}

	if r.db.Driver() == DriverPostgres {
		query := `
			SELECT id, topic_name, field FROM potential_topics
			WHERE field = $1 AND NOT (topic_name = ANY($2))
			ORDER BY id ASC LIMIT 1
		`
		return query, []any{category, pq.Array(skip)}, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, topic_name, field FROM potential_topics
		WHERE field = ? AND topic_name NOT IN (?)
		ORDER BY id ASC LIMIT 1
	`, category, skip)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build topic query: %w", err)
	}
	return r.db.Rebind(query), args, nil
}

// RecordPosted appends to the posting history.
func (r *TopicRepo) RecordPosted(ctx context.Context, topic string, at time.Time) error {
	query := r.db.Rebind(`INSERT INTO previous_topics (topic_name, date_posted) VALUES (?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, topic, at.UTC().Format(postedLayout)); err != nil {
		return fmt.Errorf("failed to record posted topic: %w", err)
	}
	return nil
}

// RecentTopics returns up to limit posted topic names, newest first.
func (r *TopicRepo) RecentTopics(ctx context.Context, limit int) ([]string, error) {
	query := r.db.Rebind(`
		SELECT topic_name FROM previous_topics
		ORDER BY date_posted DESC, id DESC
		LIMIT ?
	`)
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent topics: %w", err)
	}
	return names, nil
}

// AddCandidates inserts candidate topics, skipping names that already exist.
func (r *TopicRepo) AddCandidates(ctx context.Context, category string, names []string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := tx.Rebind(`
		INSERT INTO potential_topics (topic_name, field) VALUES (?, ?)
		ON CONFLICT (topic_name) DO NOTHING
	`)

	inserted := 0
	for _, name := range names {
		res, err := tx.ExecContext(ctx, query, name, category)
		if err != nil {
			return 0, fmt.Errorf("failed to insert topic %q: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit topics: %w", err)
	}
	return inserted, nil
}

func (r *TopicRepo) Close() error {
	return r.db.Close()
}
