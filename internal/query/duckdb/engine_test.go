package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/storage"
)

type orderRow struct {
	OrderID int64   `parquet:"order_id"`
	Region  string  `parquet:"region"`
	Total   float64 `parquet:"total_amount"`
}

func TestExecuteReadsParquetThroughObjectStore(t *testing.T) {
	store := newMemoryStore(t, map[string][]orderRow{
		"shop/orders.parquet": {{OrderID: 1, Region: "North", Total: 10}, {OrderID: 2, Region: "South", Total: 20}},
	})
	engine := openEngine(t, store, map[string]string{"orders": "shop/orders.parquet"})

	result, err := engine.Execute(context.Background(), query.Request{
		Query: validated(t, "SELECT COUNT(*) AS c FROM orders", "orders"),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "c" {
		t.Fatalf("Columns = %#v", result.Columns)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != int64(2) {
		t.Fatalf("Rows = %#v", result.Rows)
	}
}

func TestExecuteAppliesRowLimitWithoutRewritingQuery(t *testing.T) {
	store := newMemoryStore(t, map[string][]orderRow{
		"shop/orders.parquet": {{OrderID: 1}, {OrderID: 2}, {OrderID: 3}},
	})
	engine := openEngine(t, store, map[string]string{"orders": "shop/orders.parquet"})

	result, err := engine.Execute(context.Background(), query.Request{
		Query:    validated(t, "SELECT order_id FROM orders ORDER BY order_id", "orders"),
		RowLimit: 2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("Rows = %#v, Truncated = %v", result.Rows, result.Truncated)
	}
}

func TestExecuteCannotReachFilesOutsideLoadedTables(t *testing.T) {
	store := newMemoryStore(t, map[string][]orderRow{"shop/orders.parquet": {{OrderID: 1}}})
	engine := openEngine(t, store, map[string]string{"orders": "shop/orders.parquet"})

	_, err := engine.Execute(context.Background(), query.Request{
		Query: validated(t, "SELECT * FROM read_parquet('/etc/hostname')", "read_parquet"),
	})
	if err == nil {
		t.Fatal("Execute() expected error for file access")
	}
}

func TestDescribeSchemaListsLoadedTables(t *testing.T) {
	store := newMemoryStore(t, map[string][]orderRow{"shop/orders.parquet": {{OrderID: 1}}})
	engine := openEngine(t, store, map[string]string{"orders": "shop/orders.parquet"})

	tables, err := engine.DescribeSchema(context.Background())
	if err != nil {
		t.Fatalf("DescribeSchema() error = %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "orders" {
		t.Fatalf("tables = %#v", tables)
	}
	names := make([]string, 0, len(tables[0].Columns))
	for _, column := range tables[0].Columns {
		names = append(names, column.Name)
	}
	want := []string{"order_id", "region", "total_amount"}
	if len(names) != len(want) {
		t.Fatalf("columns = %#v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("columns = %#v, want %#v", names, want)
		}
	}
	if tables[0].Columns[0].Type != "BIGINT" {
		t.Fatalf("order_id type = %q", tables[0].Columns[0].Type)
	}
}

func TestReloadPicksUpNewObjects(t *testing.T) {
	store := newMemoryStore(t, map[string][]orderRow{"shop/orders.parquet": {{OrderID: 1}}})
	engine := openEngine(t, store, map[string]string{"orders": "shop/orders.parquet"})

	store.set(t, "shop/orders.parquet", []orderRow{{OrderID: 1}, {OrderID: 2}, {OrderID: 3}})
	if err := engine.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	result, err := engine.Execute(context.Background(), query.Request{
		Query: validated(t, "SELECT COUNT(*) FROM orders", "orders"),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != int64(3) {
		t.Fatalf("count = %#v", result.Rows[0][0])
	}
}

func TestOpenFailsForMissingObject(t *testing.T) {
	store := newMemoryStore(t, nil)
	_, err := Open(context.Background(), store, map[string]string{"orders": "missing.parquet"})
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Open() error = %v, want ErrObjectNotFound", err)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	store := newMemoryStore(t, map[string][]orderRow{"shop/orders.parquet": {{OrderID: 1}}})
	engine, err := Open(context.Background(), store, map[string]string{"orders": "shop/orders.parquet"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := engine.Execute(context.Background(), query.Request{Query: validated(t, "SELECT 1")}); err == nil {
		t.Fatal("Execute() after Close expected error")
	}
	if _, err := engine.Execute(context.Background(), query.Request{}); !errors.Is(err, query.ErrUnvalidated) {
		t.Fatalf("Execute() error = %v, want ErrUnvalidated", err)
	}
}

func openEngine(t *testing.T, store storage.ObjectStore, tables map[string]string) *Engine {
	t.Helper()
	engine, err := Open(context.Background(), store, tables)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func validated(t *testing.T, sqlText string, tables ...string) safety.ValidatedQuery {
	t.Helper()
	validator, err := safety.NewValidator(safety.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	described := make([]schema.Table, 0, len(tables))
	for _, name := range tables {
		described = append(described, schema.Table{Name: name})
	}
	verdict := validator.Validate(sqlText, schema.NewDescriptor(described, time.Now()))
	if !verdict.Accepted {
		t.Fatalf("Validate(%q) = %s", sqlText, verdict.Error())
	}
	return verdict.Query
}

func buildParquet(rows []orderRow) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[orderRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore(t *testing.T, objects map[string][]orderRow) *memoryStore {
	t.Helper()
	store := &memoryStore{objects: map[string][]byte{}}
	for key, rows := range objects {
		store.set(t, key, rows)
	}
	return store
}

func (m *memoryStore) set(t *testing.T, key string, rows []orderRow) {
	t.Helper()
	payload, err := buildParquet(rows)
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = payload
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = payload
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}
