// Package duckdb serves Parquet objects from the object store as DuckDB
// tables. Objects are downloaded and materialized into an in-memory database
// that has external access disabled, so queries cannot reach files or URLs.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/storage"
)

const catalogSQL = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

type Engine struct {
	store  storage.ObjectStore
	tables map[string]string

	mu sync.RWMutex
	db *sql.DB
}

// Open loads every table in tables (table name to object key) and returns an
// engine ready to execute queries.
func Open(ctx context.Context, store storage.ObjectStore, tables map[string]string) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("at least one parquet table is required")
	}
	copied := make(map[string]string, len(tables))
	for name, key := range tables {
		copied[name] = key
	}
	engine := &Engine{store: store, tables: copied}
	if err := engine.Reload(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

// Reload downloads the objects again and swaps in a freshly built database.
// Queries running against the previous database finish before it is closed.
func (e *Engine) Reload(ctx context.Context) error {
	db, err := e.build(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	previous := e.db
	e.db = db
	e.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (e *Engine) build(ctx context.Context) (*sql.DB, error) {
	workDir, err := os.MkdirTemp("", "querygate-parquet-")
	if err != nil {
		return nil, fmt.Errorf("create parquet temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	for index, name := range e.tableNames() {
		key := e.tables[name]
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(name), index))
		if err := e.download(ctx, key, localPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		createSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quoteString(localPath))
		if _, err := db.ExecContext(ctx, createSQL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load table %q: %w", name, err)
		}
	}

	for _, statement := range []string{
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("lock down duckdb: %w", err)
		}
	}
	return db, nil
}

func (e *Engine) download(ctx context.Context, key, localPath string) error {
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if request.Query.IsZero() {
		return query.Result{}, query.ErrUnvalidated
	}
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return query.Result{}, fmt.Errorf("duckdb engine is closed")
	}

	rows, err := e.db.QueryContext(ctx, request.Query.SQL())
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := query.CollectRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) DescribeSchema(ctx context.Context) ([]schema.Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, fmt.Errorf("duckdb engine is closed")
	}
	return query.DescribeColumns(ctx, e.db, catalogSQL)
}

func (e *Engine) Ping(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return fmt.Errorf("duckdb engine is closed")
	}
	return e.db.PingContext(ctx)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) tableNames() []string {
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
