// Package postgres stores query patterns in the query_pattern table created
// by internal/migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querygate/querygate/internal/patterns"
	"github.com/querygate/querygate/internal/safety"
)

const patternColumns = `pattern_key, query_text, success, latency_ns, usage_count, last_used_at, created_at`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB, now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{db: db, now: now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Verify checks that the pattern table exists and can be read.
func (s *Store) Verify(ctx context.Context) error {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_pattern`).Scan(&count); err != nil {
		return fmt.Errorf("read query_pattern: %w", err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, key string) (patterns.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+patternColumns+`
FROM query_pattern
WHERE pattern_key = $1`, key)
	pattern, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patterns.Pattern{}, patterns.ErrNotFound
	}
	if err != nil {
		return patterns.Pattern{}, fmt.Errorf("lookup pattern: %w", err)
	}
	return pattern, nil
}

// Record upserts in one statement, so concurrent writers to the same key are
// serialized by the row lock.
func (s *Store) Record(ctx context.Context, key string, query safety.ValidatedQuery, success bool, latency time.Duration) (patterns.Pattern, error) {
	if err := patterns.ValidKey(key); err != nil {
		return patterns.Pattern{}, err
	}
	if query.IsZero() {
		return patterns.Pattern{}, fmt.Errorf("validated query is required")
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
INSERT INTO query_pattern (`+patternColumns+`)
VALUES ($1, $2, $3, $4, 1, $5, $5)
ON CONFLICT (pattern_key) DO UPDATE SET
	query_text = CASE
		WHEN NOT query_pattern.success AND EXCLUDED.success THEN EXCLUDED.query_text
		ELSE query_pattern.query_text
	END,
	success = query_pattern.success OR EXCLUDED.success,
	latency_ns = EXCLUDED.latency_ns,
	usage_count = query_pattern.usage_count + 1,
	last_used_at = EXCLUDED.last_used_at
RETURNING `+patternColumns,
		key, query.SQL(), success, latency.Nanoseconds(), now,
	)
	pattern, err := scanPattern(row)
	if err != nil {
		return patterns.Pattern{}, fmt.Errorf("record pattern: %w", err)
	}
	return pattern, nil
}

func (s *Store) TopPatterns(ctx context.Context, k int) ([]patterns.Pattern, error) {
	if k <= 0 {
		return []patterns.Pattern{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+patternColumns+`
FROM query_pattern
ORDER BY usage_count DESC, last_used_at DESC, pattern_key ASC
LIMIT $1`, k)
	if err != nil {
		return nil, fmt.Errorf("list top patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]patterns.Pattern, 0, k)
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Similar scores the most used successful patterns against request with
// patterns.RankSimilar.
func (s *Store) Similar(ctx context.Context, request string, k int) ([]patterns.Match, error) {
	if k <= 0 {
		return []patterns.Match{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+patternColumns+`
FROM query_pattern
WHERE success
ORDER BY usage_count DESC, last_used_at DESC, pattern_key ASC
LIMIT $1`, patterns.SimilarScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list successful patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []patterns.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		candidates = append(candidates, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return patterns.RankSimilar(request, candidates, k), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (patterns.Pattern, error) {
	var (
		pattern   patterns.Pattern
		latencyNs int64
	)
	if err := row.Scan(
		&pattern.Key,
		&pattern.Query,
		&pattern.Success,
		&latencyNs,
		&pattern.UsageCount,
		&pattern.LastUsedAt,
		&pattern.CreatedAt,
	); err != nil {
		return patterns.Pattern{}, err
	}
	pattern.Latency = time.Duration(latencyNs)
	pattern.LastUsedAt = pattern.LastUsedAt.UTC()
	pattern.CreatedAt = pattern.CreatedAt.UTC()
	return pattern, nil
}
