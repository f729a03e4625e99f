// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shortly"
	"shortly/internal/shortener/core"
)

const uniqueViolation = "23505"

// schemaLockID serializes EnsureSchema across instances racing at startup.
const schemaLockID = 0x73686f72746c79 // "shortly"

// Store is the authoritative OLTP adapter over pgx. The id column is not
// serial: ids come pre-allocated from the range allocator, so inserts never
// contend on a sequence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a pool against databaseURL.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an existing pool. Tests use this.
func NewStoreFromPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// EnsureSchema creates the urls table and its indexes if missing, under an
// advisory lock so concurrent instances do not trip over each other's DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn for schema: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", schemaLockID); err != nil {
		return fmt.Errorf("take schema lock: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", schemaLockID)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS urls (
			id           BIGINT PRIMARY KEY,
			short_code   VARCHAR(12) NOT NULL UNIQUE,
			original_url TEXT NOT NULL,
			clicks       BIGINT NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_urls_clicks_desc ON urls (clicks DESC);
		CREATE INDEX IF NOT EXISTS idx_urls_created_at_desc ON urls (created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, u *shortly.URL) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO urls (id, short_code, original_url, clicks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.ShortCode, u.OriginalURL, u.Clicks, u.CreatedAt, u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", core.ErrCodeTaken, u.ShortCode)
	}
	if err != nil {
		return fmt.Errorf("insert %q: %w", u.ShortCode, err)
	}
	return nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (*shortly.URL, error) {
	var u shortly.URL
	err := s.pool.QueryRow(ctx, `
		SELECT id, short_code, original_url, clicks, created_at, updated_at
		FROM urls WHERE short_code = $1`, code,
	).Scan(&u.ID, &u.ShortCode, &u.OriginalURL, &u.Clicks, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", code, err)
	}
	return &u, nil
}

// AddClicks applies aggregated deltas in one batch and returns the post-update
// records for every code that exists. Unknown codes (already deleted rows,
// garbage events) are skipped silently.
func (s *Store) AddClicks(ctx context.Context, counts map[string]int64) (map[string]*shortly.URL, error) {
	if len(counts) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	codes := make([]string, 0, len(counts))
	for code, delta := range counts {
		codes = append(codes, code)
		batch.Queue(`
			UPDATE urls SET clicks = clicks + $2, updated_at = now()
			WHERE short_code = $1
			RETURNING id, short_code, original_url, clicks, created_at, updated_at`,
			code, delta,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	updated := make(map[string]*shortly.URL, len(counts))
	for range codes {
		var u shortly.URL
		err := br.QueryRow().Scan(&u.ID, &u.ShortCode, &u.OriginalURL, &u.Clicks, &u.CreatedAt, &u.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply click batch: %w", err)
		}
		updated[u.ShortCode] = &u
	}
	return updated, nil
}

// TopByClicks returns the n most-clicked records for the warmer.
func (s *Store) TopByClicks(ctx context.Context, n int) ([]*shortly.URL, error) {
	return s.queryURLs(ctx, `
		SELECT id, short_code, original_url, clicks, created_at, updated_at
		FROM urls ORDER BY clicks DESC LIMIT $1`, n)
}

// Newest returns the n most recently created records for the warmer.
func (s *Store) Newest(ctx context.Context, n int) ([]*shortly.URL, error) {
	return s.queryURLs(ctx, `
		SELECT id, short_code, original_url, clicks, created_at, updated_at
		FROM urls ORDER BY created_at DESC LIMIT $1`, n)
}

// GetByCodes fetches records for the given codes. Missing codes are absent
// from the result, not an error.
func (s *Store) GetByCodes(ctx context.Context, codes []string) ([]*shortly.URL, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return s.queryURLs(ctx, `
		SELECT id, short_code, original_url, clicks, created_at, updated_at
		FROM urls WHERE short_code = ANY($1)`, codes)
}

func (s *Store) queryURLs(ctx context.Context, sql string, args ...any) ([]*shortly.URL, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var out []*shortly.URL
	for rows.Next() {
		var u shortly.URL
		if err := rows.Scan(&u.ID, &u.ShortCode, &u.OriginalURL, &u.Clicks, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// Ping reports database reachability for health endpoints.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }
