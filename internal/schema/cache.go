package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/querygate/querygate/internal/observability"
)

var ErrNoSource = errors.New("schema source is required")

// Cache holds the latest Descriptor. Reads never block; refreshes are
// coalesced and applied one at a time, and each replaces the whole value.
type Cache struct {
	current atomic.Pointer[Descriptor]
	mu      sync.Mutex
	group   singleflight.Group
	now     func() time.Time
	// last is the newest FetchedAt handed out, kept across Invalidate.
	last time.Time
}

type Option func(*Cache)

// WithClock overrides the time source used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCache(opts ...Option) *Cache {
	c := &Cache{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached descriptor, or false when nothing was fetched yet or
// the cache was invalidated.
func (c *Cache) Get() (*Descriptor, bool) {
	current := c.current.Load()
	return current, current != nil
}

// Refresh asks src for the current tables and replaces the cached value. On
// error the previous value stays in place. Concurrent callers share one call
// into src.
func (c *Cache) Refresh(ctx context.Context, src Source) (*Descriptor, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	value, err, _ := c.group.Do("refresh", func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		tables, err := src.DescribeSchema(ctx)
		observability.ObserveSchemaRefresh(err)
		if err != nil {
			return nil, fmt.Errorf("describe schema: %w", err)
		}
		fetchedAt := c.now()
		if !fetchedAt.After(c.last) {
			fetchedAt = c.last.Add(time.Nanosecond)
		}
		c.last = fetchedAt
		descriptor := NewDescriptor(tables, fetchedAt)
		c.current.Store(descriptor)
		return descriptor, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Descriptor), nil
}

// GetOrRefresh returns the cached value when it is younger than maxAge and
// refreshes otherwise. A maxAge of zero or less never expires a present value.
func (c *Cache) GetOrRefresh(ctx context.Context, src Source, maxAge time.Duration) (*Descriptor, error) {
	if current, ok := c.Get(); ok {
		if maxAge <= 0 || c.now().Sub(current.FetchedAt) < maxAge {
			return current, nil
		}
	}
	return c.Refresh(ctx, src)
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.Store(nil)
}
