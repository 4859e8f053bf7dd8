// Package store persists watched resources in Postgres.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/models"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection. The schema is managed by
// the migrate command.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Add inserts a watch. A row that already exists for the channel is reported
// as models.ErrAlreadyWatching.
func (s *Store) Add(ctx context.Context, res models.WatchedResource) error {
	if res.WatchedAt.IsZero() {
		res.WatchedAt = time.Now().UTC()
	}
	result, err := s.DB.ExecContext(ctx, `
INSERT INTO watched_resources (channel_id, resource_id, name, url, content, content_hash, watched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (channel_id, resource_id) DO NOTHING`,
		res.ChannelID, res.ID, res.Name, res.URL, res.Content, res.ContentHash, res.WatchedAt)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrAlreadyWatching
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, channelID string, resourceID int64) error {
	result, err := s.DB.ExecContext(ctx, `DELETE FROM watched_resources WHERE channel_id = $1 AND resource_id = $2`, channelID, resourceID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotWatching
	}
	return nil
}

// List returns the channel's watches in the order they were added.
func (s *Store) List(ctx context.Context, channelID string) ([]models.WatchedResource, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT channel_id, resource_id, name, url, content, content_hash, watched_at, checked_at, updated_at
FROM watched_resources
WHERE channel_id = $1
ORDER BY seq`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WatchedResource
	for rows.Next() {
		var (
			res       models.WatchedResource
			checkedAt sql.NullTime
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&res.ChannelID, &res.ID, &res.Name, &res.URL, &res.Content, &res.ContentHash, &res.WatchedAt, &checkedAt, &updatedAt); err != nil {
			return nil, err
		}
		if checkedAt.Valid {
			res.CheckedAt = checkedAt.Time
		}
		if updatedAt.Valid {
			res.UpdatedAt = updatedAt.Time
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) Channels(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT channel_id FROM watched_resources ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) UpdateContent(ctx context.Context, channelID string, resourceID int64, u registry.ContentUpdate) error {
	var (
		result sql.Result
		err    error
	)
	if u.Changed {
		result, err = s.DB.ExecContext(ctx, `
UPDATE watched_resources
SET content = $3, content_hash = $4, checked_at = $5, updated_at = $5
WHERE channel_id = $1 AND resource_id = $2`, channelID, resourceID, u.Content, u.ContentHash, u.CheckedAt)
	} else {
		result, err = s.DB.ExecContext(ctx, `
UPDATE watched_resources
SET checked_at = $3
WHERE channel_id = $1 AND resource_id = $2`, channelID, resourceID, u.CheckedAt)
	}
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotWatching
	}
	return nil
}

var _ registry.Registry = (*Store)(nil)
