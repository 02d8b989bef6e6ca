package seed

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/querygate/querygate/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// WriteParquet uploads one Parquet object per table under
// <dataset>/<table>.parquet and returns the table to key mapping.
func WriteParquet(ctx context.Context, store storage.ObjectStore, dataset string, data Dataset) (map[string]string, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	encoders := map[string]func() ([]byte, error){
		"customers": func() ([]byte, error) { return encodeParquet(data.Customers) },
		"products":  func() ([]byte, error) { return encodeParquet(data.Products) },
		"orders":    func() ([]byte, error) { return encodeParquet(data.Orders) },
		"sales":     func() ([]byte, error) { return encodeParquet(data.Sales) },
	}

	keys := make(map[string]string, len(encoders))
	for _, table := range Tables() {
		key, err := storage.TableObjectKey(dataset, table)
		if err != nil {
			return nil, err
		}
		payload, err := encoders[table]()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", table, err)
		}
		if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: parquetContentType}); err != nil {
			return nil, fmt.Errorf("upload %s: %w", table, err)
		}
		keys[table] = key
	}
	return keys, nil
}

// TableMapString renders keys in the "table=key,table=key" form read by the
// parquet source configuration.
func TableMapString(keys map[string]string) string {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+keys[name])
	}
	return strings.Join(parts, ",")
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
