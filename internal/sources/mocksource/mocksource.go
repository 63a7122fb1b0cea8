// Package mocksource provides a scriptable sync source for tests. Batches
// are queued ahead of time and served in order; errors can be injected to
// exercise retry, backoff, and auth-failure paths.
package mocksource

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kensaku/internal/models"
)

type step struct {
	result *models.FetchResult
	err    error
}

// MockSource implements the sync source contract with pre-queued responses.
// When the queue is empty, FetchChanges returns an empty result that leaves
// the cursor unchanged.
type MockSource struct {
	providerID string
	kind       models.SourceKind

	mu      sync.Mutex
	steps   []step
	cursors []string
	calls   int
}

// New creates a mock source for the given provider and kind.
func New(providerID string, kind models.SourceKind) *MockSource {
	return &MockSource{providerID: providerID, kind: kind}
}

func (m *MockSource) ProviderID() string      { return m.providerID }
func (m *MockSource) Kind() models.SourceKind { return m.kind }

// QueueBatch queues a successful fetch returning the given changes.
func (m *MockSource) QueueBatch(changes []models.Change, nextCursor string, hasMore bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{result: &models.FetchResult{
		Changes:    changes,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}})
}

// QueueError queues a failing fetch.
func (m *MockSource) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{err: err})
}

// FetchChanges pops the next queued step and records the cursor it was
// called with.
func (m *MockSource) FetchChanges(ctx context.Context, cursor string) (*models.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.cursors = append(m.cursors, cursor)
	if len(m.steps) == 0 {
		return &models.FetchResult{NextCursor: cursor}, nil
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	if s.err != nil {
		return nil, fmt.Errorf("fetch %s: %w", m.providerID, s.err)
	}
	return s.result, nil
}

// Calls returns how many times FetchChanges was invoked.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Cursors returns the cursor values FetchChanges was called with, in order.
func (m *MockSource) Cursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cursors...)
}
