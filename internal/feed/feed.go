// Package feed maintains the live, newest-first view of all observations
// for one map screen.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/oszuidwest/zwfm-ecoscan/internal/geo"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// DefaultCenter frames the map when the viewer position is unknown.
var DefaultCenter = types.Position{Lat: 19.076, Lng: 72.8777}

// ErrAlreadySubscribed is returned when SubscribeInserts is called twice
// without an Unsubscribe in between.
var ErrAlreadySubscribed = errors.New("feed already subscribed")

// Source is the part of the store a feed reads from.
type Source interface {
	SelectAll(ctx context.Context) ([]types.Observation, error)
	Subscribe(handler func(types.Observation)) (store.Subscription, error)
}

// State is a read-only copy of the feed.
type State struct {
	Observations []types.Observation `json:"observations"`
	Viewer       *types.Position     `json:"viewer,omitempty"`
}

// Feed holds the observation sequence and viewer position of one screen.
// Only LoadInitial and the insert handler mutate the sequence.
type Feed struct {
	source   Source
	locator  geo.Locator
	fallback types.Position

	mu           sync.RWMutex
	observations []types.Observation
	viewer       *types.Position
	sub          store.Subscription
}

// New creates an empty feed. fallback frames the map until the viewer
// position is known.
func New(source Source, locator geo.Locator, fallback types.Position) *Feed {
	return &Feed{
		source:   source,
		locator:  locator,
		fallback: fallback,
	}
}

// LoadInitial replaces the sequence with all observations, newest first.
// On failure the previous sequence is kept and the error wraps
// types.ErrNetworkFailure.
func (f *Feed) LoadInitial(ctx context.Context) error {
	observations, err := f.source.SelectAll(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrNetworkFailure) {
			err = fmt.Errorf("%w: %w", types.ErrNetworkFailure, err)
		}
		return fmt.Errorf("load reports: %w", err)
	}

	f.mu.Lock()
	f.observations = observations
	f.mu.Unlock()

	slog.Debug("feed loaded", "reports", len(observations))
	return nil
}

// SubscribeInserts opens the standing subscription. Each insert event is
// prepended to the sequence and then passed to handler, in arrival order.
func (f *Feed) SubscribeInserts(handler func(types.Observation)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return ErrAlreadySubscribed
	}

	sub, err := f.source.Subscribe(func(o types.Observation) {
		f.mu.Lock()
		f.observations = slices.Insert(f.observations, 0, o)
		f.mu.Unlock()

		if handler != nil {
			handler(o)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe: %w", types.ErrNetworkFailure, err)
	}
	f.sub = sub
	return nil
}

// Unsubscribe releases the subscription. Calling it again is a no-op, and
// once it returns the insert handler is not called again.
func (f *Feed) Unsubscribe() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// TrackViewerPosition asks the locator for a one-shot fix. On failure the
// viewer stays unset and Center falls back to the default.
func (f *Feed) TrackViewerPosition(ctx context.Context) error {
	if f.locator == nil {
		return fmt.Errorf("%w: no locator", types.ErrLocationUnavailable)
	}
	pos, err := f.locator.CurrentPosition(ctx)
	if err != nil {
		slog.Debug("viewer position unavailable", "error", err)
		return err
	}

	f.mu.Lock()
	f.viewer = &pos
	f.mu.Unlock()
	return nil
}

// State returns a copy of the feed state.
func (f *Feed) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := State{Observations: slices.Clone(f.observations)}
	if f.viewer != nil {
		v := *f.viewer
		s.Viewer = &v
	}
	return s
}

// Center returns the viewer position, or the fallback when it is unknown.
func (f *Feed) Center() types.Position {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.viewer != nil {
		return *f.viewer
	}
	return f.fallback
}

// Markers derives the markers for the current sequence, newest first.
func (f *Feed) Markers() []types.Marker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return RenderAll(f.observations)
}
