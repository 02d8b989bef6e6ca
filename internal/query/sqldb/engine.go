// Package sqldb runs validated queries against a database/sql source: a
// SQLite file, a Postgres database or a DuckDB file.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

const sqliteCatalogSQL = `
SELECT m.name, p.name, p.type, CASE WHEN p."notnull" = 0 THEN 'YES' ELSE 'NO' END
FROM sqlite_master AS m
JOIN pragma_table_info(m.name) AS p
WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

const informationSchemaSQL = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Engine executes queries on a read-only handle. SQLite connections run with
// query_only, DuckDB files are opened READ_ONLY and every Postgres statement
// runs inside a read-only transaction that is rolled back.
type Engine struct {
	db     *sql.DB
	driver string
}

func Open(ctx context.Context, cfg Config) (*Engine, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("source dsn is required")
	}

	var driverName string
	switch driver {
	case DriverSQLite:
		driverName = "sqlite"
		dsn = withParam(dsn, "_pragma=query_only(1)")
	case DriverPostgres:
		driverName = "pgx"
	case DriverDuckDB:
		driverName = "duckdb"
		dsn = withParam(dsn, "access_mode=READ_ONLY")
	default:
		return nil, fmt.Errorf("unsupported source driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s source: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	engine := New(db, driver)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return engine, nil
}

// New wraps an existing handle. The caller is responsible for opening it with
// the read-only settings Open would apply.
func New(db *sql.DB, driver string) *Engine {
	return &Engine{db: db, driver: strings.ToLower(strings.TrimSpace(driver))}
}

func (e *Engine) Driver() string {
	return e.driver
}

func (e *Engine) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s source: %w", e.driver, err)
	}
	return nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if request.Query.IsZero() {
		return query.Result{}, query.ErrUnvalidated
	}
	start := time.Now()

	var (
		result query.Result
		err    error
	)
	if e.driver == DriverPostgres {
		result, err = e.executeInReadOnlyTx(ctx, request)
	} else {
		result, err = e.execute(ctx, e.db, request)
	}
	if err != nil {
		return query.Result{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (e *Engine) execute(ctx context.Context, q queryer, request query.Request) (query.Result, error) {
	rows, err := q.QueryContext(ctx, request.Query.SQL())
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return query.CollectRows(rows, request.RowLimit)
}

func (e *Engine) executeInReadOnlyTx(ctx context.Context, request query.Request) (query.Result, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return e.execute(ctx, tx, request)
}

func (e *Engine) DescribeSchema(ctx context.Context) ([]schema.Table, error) {
	switch e.driver {
	case DriverSQLite:
		return query.DescribeColumns(ctx, e.db, sqliteCatalogSQL)
	case DriverPostgres:
		return query.DescribeColumns(ctx, e.db, informationSchemaSQL, "public")
	case DriverDuckDB:
		return query.DescribeColumns(ctx, e.db, informationSchemaSQL, "main")
	default:
		return nil, fmt.Errorf("unsupported source driver %q", e.driver)
	}
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
