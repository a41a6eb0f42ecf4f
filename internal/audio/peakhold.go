package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak level is held before it decays.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks the held peak of the 0..100 noise level.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         int
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{holdDuration: DefaultPeakHoldDuration}
}

// Update records level and returns the held peak.
func (p *PeakHolder) Update(level int, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.heldAt.IsZero() || level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// SetHoldDuration updates the peak hold duration.
func (p *PeakHolder) SetHoldDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdDuration = d
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
