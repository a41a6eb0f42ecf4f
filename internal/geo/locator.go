// Package geo resolves the position used to geotag observations and to frame
// the map.
package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Locator produces a one-shot position fix. Errors wrap
// types.ErrPermissionDenied, types.ErrLocationUnavailable or types.ErrTimeout.
type Locator interface {
	CurrentPosition(ctx context.Context) (types.Position, error)
}

// Static returns a fixed station position.
type Static struct {
	pos *types.Position
}

// NewStatic creates a locator for the configured coordinates. A nil pos
// yields types.ErrLocationUnavailable.
func NewStatic(pos *types.Position) *Static {
	return &Static{pos: pos}
}

// CurrentPosition returns the configured coordinates.
func (s *Static) CurrentPosition(context.Context) (types.Position, error) {
	if s.pos == nil {
		return types.Position{}, fmt.Errorf("%w: no station coordinates configured", types.ErrLocationUnavailable)
	}
	return *s.pos, nil
}

// ClientFix holds the position a browser reported for its own screen.
// It is safe for concurrent use.
type ClientFix struct {
	mu  sync.RWMutex
	pos *types.Position
	err error
}

// NewClientFix creates an empty fix.
func NewClientFix() *ClientFix {
	return &ClientFix{}
}

// Set records a successful browser fix.
func (c *ClientFix) Set(pos types.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = &pos
	c.err = nil
}

// Fail records a failed browser fix. err should wrap one of the location
// sentinels.
func (c *ClientFix) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = nil
	c.err = err
}

// CurrentPosition returns the last reported fix.
func (c *ClientFix) CurrentPosition(context.Context) (types.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.pos != nil:
		return *c.pos, nil
	case c.err != nil:
		return types.Position{}, c.err
	default:
		return types.Position{}, fmt.Errorf("%w: browser has not reported a position", types.ErrLocationUnavailable)
	}
}

// Chain tries each locator in order and returns the first fix.
type Chain []Locator

// CurrentPosition returns the first successful fix, or all failures joined.
// A cancelled context ends the chain early.
func (c Chain) CurrentPosition(ctx context.Context) (types.Position, error) {
	var errs []error
	for _, l := range c {
		pos, err := l.CurrentPosition(ctx)
		if err == nil {
			return pos, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return types.Position{}, fmt.Errorf("%w: no locators configured", types.ErrLocationUnavailable)
	}
	return types.Position{}, errors.Join(errs...)
}
