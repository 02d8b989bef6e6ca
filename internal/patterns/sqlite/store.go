// Package sqlite stores query patterns in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/querygate/querygate/internal/patterns"
	"github.com/querygate/querygate/internal/safety"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS query_pattern (
	pattern_key TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	success INTEGER NOT NULL,
	latency_ns INTEGER NOT NULL,
	usage_count INTEGER NOT NULL,
	last_used_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_pattern_usage_recent ON query_pattern(usage_count DESC, last_used_at DESC);
`

const patternColumns = `pattern_key, query_text, success, latency_ns, usage_count, last_used_at, created_at`

type Store struct {
	db *sql.DB
	// writeMu keeps writers from contending for the SQLite write lock.
	writeMu sync.Mutex
	now     func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens or creates the pattern file at path. Every commit is synced to
// disk before it returns. A file that exists but cannot be read as a healthy
// database is an error.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("pattern store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create pattern store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.verify(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(pingCtx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create pattern schema: %w", err)
	}
	return store, nil
}

func dsn(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(FULL)",
		"_pragma=busy_timeout(5000)",
	}, "&")
}

func (s *Store) verify(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping pattern store: %w", err)
	}
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return fmt.Errorf("check pattern store: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("pattern store failed integrity check: %s", result)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Lookup(ctx context.Context, key string) (patterns.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM query_pattern WHERE pattern_key = ?`, key)
	pattern, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patterns.Pattern{}, patterns.ErrNotFound
	}
	if err != nil {
		return patterns.Pattern{}, fmt.Errorf("lookup pattern: %w", err)
	}
	return pattern, nil
}

func (s *Store) Record(ctx context.Context, key string, query safety.ValidatedQuery, success bool, latency time.Duration) (patterns.Pattern, error) {
	if err := patterns.ValidKey(key); err != nil {
		return patterns.Pattern{}, err
	}
	if query.IsZero() {
		return patterns.Pattern{}, fmt.Errorf("validated query is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now().UnixNano()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO query_pattern (`+patternColumns+`)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (pattern_key) DO UPDATE SET
			query_text = CASE
				WHEN query_pattern.success = 0 AND excluded.success = 1 THEN excluded.query_text
				ELSE query_pattern.query_text
			END,
			success = MAX(query_pattern.success, excluded.success),
			latency_ns = excluded.latency_ns,
			usage_count = query_pattern.usage_count + 1,
			last_used_at = excluded.last_used_at
		RETURNING `+patternColumns,
		key, query.SQL(), boolToInt(success), latency.Nanoseconds(), now, now,
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
		LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("list top patterns: %w", err)
	}
	defer rows.Close()

	out := make([]patterns.Pattern, 0, k)
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return out, nil
}

// Similar scores the most used successful patterns against request.
func (s *Store) Similar(ctx context.Context, request string, k int) ([]patterns.Match, error) {
	if k <= 0 {
		return []patterns.Match{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM query_pattern
		WHERE success = 1
		ORDER BY usage_count DESC, last_used_at DESC, pattern_key ASC
		LIMIT ?`, patterns.SimilarScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list successful patterns: %w", err)
	}
	defer rows.Close()

	var candidates []patterns.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		candidates = append(candidates, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return patterns.RankSimilar(request, candidates, k), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(row scanner) (patterns.Pattern, error) {
	var (
		pattern   patterns.Pattern
		success   int64
		latencyNs int64
		lastUsed  int64
		created   int64
	)
	if err := row.Scan(&pattern.Key, &pattern.Query, &success, &latencyNs, &pattern.UsageCount, &lastUsed, &created); err != nil {
		return patterns.Pattern{}, err
	}
	pattern.Success = success != 0
	pattern.Latency = time.Duration(latencyNs)
	pattern.LastUsedAt = time.Unix(0, lastUsed).UTC()
	pattern.CreatedAt = time.Unix(0, created).UTC()
	return pattern, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
