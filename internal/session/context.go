package session

import (
	"sync"
	"time"
)

const DefaultMaxTurns = 10

// Context is a fixed-capacity ring of turns for one conversation. Appending
// to a full ring overwrites the oldest turn.
type Context struct {
	id       string
	mu       sync.RWMutex
	turns    []Turn
	head     int
	count    int
	lastUsed time.Time
}

func NewContext(id string, maxTurns int) *Context {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Context{
		id:    id,
		turns: make([]Turn, maxTurns),
	}
}

func (c *Context) ID() string {
	return c.id
}

func (c *Context) Cap() int {
	return len(c.turns)
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

func (c *Context) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns[c.head] = turn.clone()
	c.head = (c.head + 1) % len(c.turns)
	if c.count < len(c.turns) {
		c.count++
	}
}

// RecentTurns returns up to n turns, oldest first. n <= 0 returns every held
// turn.
func (c *Context) RecentTurns(n int) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > c.count {
		n = c.count
	}
	out := make([]Turn, 0, n)
	start := c.head - n
	if start < 0 {
		start += len(c.turns)
	}
	for i := 0; i < n; i++ {
		out = append(out, c.turns[(start+i)%len(c.turns)].clone())
	}
	return out
}

func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = make([]Turn, len(c.turns))
	c.head = 0
	c.count = 0
}

func (c *Context) touch(at time.Time) {
	c.mu.Lock()
	c.lastUsed = at
	c.mu.Unlock()
}

func (c *Context) idleSince() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUsed
}
