// Package query is the contract for executing a validated statement against
// the configured data source.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/schema"
)

// ErrUnvalidated is returned when a request carries a query that did not come
// out of the safety validator.
var ErrUnvalidated = errors.New("query was not validated")

type Request struct {
	Query    safety.ValidatedQuery
	RowLimit int
}

type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Source is a data source that can both run queries and describe itself.
type Source interface {
	Engine
	schema.Source
	Ping(ctx context.Context) error
	Close() error
}

// CollectRows reads at most limit rows (all rows when limit <= 0). The
// statement text is never rewritten to apply the limit; rows past it are
// left unread and Truncated is set.
func CollectRows(rows *sql.Rows, limit int) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// DescribeColumns runs a catalog query returning (table, column, type,
// is_nullable) rows ordered by table and column position, and groups them.
func DescribeColumns(ctx context.Context, db *sql.DB, catalogSQL string, args ...any) ([]schema.Table, error) {
	rows, err := db.QueryContext(ctx, catalogSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]schema.Table, 0)
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, columnType, nullable string
		if err := rows.Scan(&tableName, &columnName, &columnType, &nullable); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		position, ok := index[tableName]
		if !ok {
			position = len(tables)
			index[tableName] = position
			tables = append(tables, schema.Table{Name: tableName})
		}
		tables[position].Columns = append(tables[position].Columns, schema.Column{
			Name:     columnName,
			Type:     columnType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return tables, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
