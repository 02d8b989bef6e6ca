package session

import (
	"sync"
	"time"
)

// Manager owns one Context per conversation id.
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*Context
	maxTurns int
	now      func() time.Time
}

func NewManager(maxTurns int, now func() time.Time) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		contexts: map[string]*Context{},
		maxTurns: maxTurns,
		now:      now,
	}
}

// GetOrCreate returns the context for id, creating an empty one on first use.
func (m *Manager) GetOrCreate(id string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[id]
	if !ok {
		ctx = NewContext(id, m.maxTurns)
		m.contexts[id] = ctx
	}
	ctx.touch(m.now())
	return ctx
}

func (m *Manager) Get(id string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[id]
	return ctx, ok
}

// Close forgets a conversation. It reports whether the id was known.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[id]
	if !ok {
		return false
	}
	ctx.Clear()
	delete(m.contexts, id)
	return true
}

// CloseIdle drops conversations not used for ttl and returns how many were
// removed.
func (m *Manager) CloseIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, ctx := range m.contexts {
		if ctx.idleSince().Before(cutoff) {
			delete(m.contexts, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}
