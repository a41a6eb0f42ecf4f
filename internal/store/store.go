// Package store persists observations in the environmental_reports
// collection and streams insert events to subscribers.
package store

import (
	"context"
	"errors"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store is the persistence, query and change-stream service.
type Store interface {
	// Insert assigns the ID and RecordedAt, persists o and then emits one
	// insert event. Failures wrap types.ErrNetworkFailure.
	Insert(ctx context.Context, o types.Observation) (types.Observation, error)
	// SelectAll returns every observation, newest first. An empty store
	// yields an empty, non-nil slice.
	SelectAll(ctx context.Context) ([]types.Observation, error)
	// Subscribe registers handler for insert events. Events reach each
	// subscriber in insert order, one call per event.
	Subscribe(handler func(types.Observation)) (Subscription, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the store and ends all subscriptions.
	Close() error
}

// Subscription is a standing subscription to insert events.
type Subscription interface {
	// Unsubscribe ends the subscription. It is idempotent, and once it
	// returns the handler is not called again. It must not be called from
	// inside the subscription's own handler.
	Unsubscribe()
}
