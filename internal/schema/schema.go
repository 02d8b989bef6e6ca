// Package schema holds the description of the data source that questions are
// answered against and the cache that keeps the latest copy of it.
package schema

import (
	"context"
	"sort"
	"strings"
	"time"
)

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Descriptor is an immutable snapshot of the tables a source exposes. Tables
// are sorted by name. A nil *Descriptor is valid and describes nothing.
type Descriptor struct {
	Tables    []Table   `json:"tables"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Source enumerates the tables and columns of a data source.
type Source interface {
	DescribeSchema(ctx context.Context) ([]Table, error)
}

// NewDescriptor copies tables so later changes by the caller cannot leak into
// the snapshot.
func NewDescriptor(tables []Table, fetchedAt time.Time) *Descriptor {
	out := make([]Table, 0, len(tables))
	for _, table := range tables {
		columns := append([]Column(nil), table.Columns...)
		out = append(out, Table{Name: table.Name, Columns: columns})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return &Descriptor{Tables: out, FetchedAt: fetchedAt}
}

func (d *Descriptor) IsNil() bool {
	return d == nil
}

// HasTable matches names case-insensitively.
func (d *Descriptor) HasTable(name string) bool {
	_, ok := d.Table(name)
	return ok
}

func (d *Descriptor) Table(name string) (Table, bool) {
	if d == nil {
		return Table{}, false
	}
	for _, table := range d.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

func (d *Descriptor) TableNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Equal compares structure only; FetchedAt is ignored.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == nil && other == nil
	}
	if len(d.Tables) != len(other.Tables) {
		return false
	}
	for i := range d.Tables {
		left, right := d.Tables[i], other.Tables[i]
		if left.Name != right.Name || len(left.Columns) != len(right.Columns) {
			return false
		}
		for j := range left.Columns {
			if left.Columns[j] != right.Columns[j] {
				return false
			}
		}
	}
	return true
}
