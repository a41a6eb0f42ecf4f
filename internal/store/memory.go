package store

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Memory is an in-process Store. Contents are lost on restart.
type Memory struct {
	*Hub
	clock clockwork.Clock

	mu      sync.RWMutex
	records []types.Observation
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock, metrics *observability.Metrics) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{Hub: NewHub(metrics), clock: clock}
}

// Insert stores o and publishes it.
func (m *Memory) Insert(ctx context.Context, o types.Observation) (types.Observation, error) {
	if err := ctx.Err(); err != nil {
		return types.Observation{}, networkError("insert report", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.Observation{}, networkError("insert report", ErrClosed)
	}

	o.ID = uuid.NewString()
	o.RecordedAt = m.clock.Now().UTC()
	m.records = append(m.records, o)
	m.metrics.ReportsInserted.WithLabelValues("success").Inc()

	// Published under the lock so events follow insert order.
	m.Publish(o)
	return o, nil
}

// SelectAll returns all observations, newest first.
func (m *Memory) SelectAll(ctx context.Context) ([]types.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, networkError("select reports", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, networkError("select reports", ErrClosed)
	}

	out := append(make([]types.Observation, 0, len(m.records)), m.records...)
	slices.Reverse(out)
	slices.SortStableFunc(out, newestFirst)
	return out, nil
}

// Ping reports whether the store is open.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close ends all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Hub.Close()
	return nil
}

func newestFirst(a, b types.Observation) int {
	return b.RecordedAt.Compare(a.RecordedAt)
}
