// ABOUTME: In-memory CallLog for tests.
// ABOUTME: Allows tests to run without SQLite.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory CallLog.
type MockStore struct {
	mu    sync.RWMutex
	calls []Call
	err   error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// FailWith makes RecordCall return err.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// RecordCall stores a copy of c.
func (m *MockStore) RecordCall(_ context.Context, c *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	m.calls = append(m.calls, *c)
	return nil
}

// ListCalls filters stored calls, newest first.
func (m *MockStore) ListCalls(_ context.Context, f CallFilter) ([]Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Call{}
	for _, c := range m.calls {
		if f.Domain != nil && c.Domain != *f.Domain {
			continue
		}
		if f.Outcome != nil && c.Outcome != *f.Outcome {
			continue
		}
		if f.Since != nil && c.StartedAt.Before(*f.Since) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Calls returns every recorded call in insertion order.
func (m *MockStore) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}
