// Package sampler turns a live audio stream into a 0-100 noise level that is
// published on a fixed cadence while a session is running.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-ecoscan/internal/audio"
	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// DefaultTickInterval is how often a running session publishes a level.
const DefaultTickInterval = 50 * time.Millisecond

// Sentinel errors for sampler operations.
var (
	ErrAlreadyRunning = errors.New("sampler already running")
	ErrStopped        = errors.New("sampler stopped while acquiring")
	ErrClosed         = errors.New("sampler closed")
)

// Analyser is the frequency analysis handle a session reads from.
type Analyser interface {
	io.Writer
	FrequencyBinCount() int
	ReadMagnitudes(dst []uint8) int
	Levels() audio.Levels
}

// Options configures a Sampler.
type Options struct {
	// Input opens the audio stream for each session.
	Input audio.Input
	// NewAnalyser creates the analysis handle for each session.
	// Defaults to an audio.Analyser with the default FFT size.
	NewAnalyser func() (Analyser, error)
	// Clock drives the tick schedule. Defaults to the real clock.
	Clock clockwork.Clock
	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
	// OnReading receives every published level. It must not call Stop or Close.
	OnReading func(types.LevelReading)
	// OnEnded is called when a stream ends without Stop being called.
	OnEnded func(error)
	// Metrics is required.
	Metrics *observability.Metrics
}

// Sampler owns at most one sampling session at a time.
// It is safe for concurrent use.
type Sampler struct {
	input       audio.Input
	newAnalyser func() (Analyser, error)
	clock       clockwork.Clock
	interval    time.Duration
	onReading   func(types.LevelReading)
	onEnded     func(error)
	metrics     *observability.Metrics
	peakHolder  *audio.PeakHolder

	mu       sync.Mutex
	state    types.SamplerState
	gen      uint64
	session  *session
	level    int
	hasLevel bool
	closed   bool
}

// New creates an idle Sampler.
func New(opts Options) *Sampler {
	s := &Sampler{
		input:       opts.Input,
		newAnalyser: opts.NewAnalyser,
		clock:       opts.Clock,
		interval:    opts.TickInterval,
		onReading:   opts.OnReading,
		onEnded:     opts.OnEnded,
		metrics:     opts.Metrics,
		peakHolder:  audio.NewPeakHolder(),
		state:       types.SamplerIdle,
	}
	if s.newAnalyser == nil {
		s.newAnalyser = func() (Analyser, error) {
			return audio.NewAnalyser(audio.DefaultFormat, audio.DefaultFFTSize)
		}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	if s.onReading == nil {
		s.onReading = func(types.LevelReading) {}
	}
	return s
}

// State returns the current sampler state.
func (s *Sampler) State() types.SamplerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Level returns the most recent level of the current or last session.
// The bool is false until a tick has completed in that session, and from the
// moment a new Start begins acquiring.
func (s *Sampler) Level() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, s.hasLevel
}

// Start acquires the audio input and begins sampling. On failure the sampler
// is back in Idle and the error wraps types.ErrPermissionDenied or
// types.ErrDeviceUnavailable.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != types.SamplerIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.gen++
	gen := s.gen
	s.state = types.SamplerAcquiring
	s.level, s.hasLevel = 0, false
	s.mu.Unlock()

	stream, err := s.input.Open(ctx)
	if err != nil {
		s.failAcquire(gen, err)
		return err
	}

	analyser, err := s.newAnalyser()
	if err != nil {
		closeStream(stream)
		err = fmt.Errorf("%w: create analyser: %w", types.ErrDeviceUnavailable, err)
		s.failAcquire(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state != types.SamplerAcquiring {
		s.mu.Unlock()
		closeStream(stream)
		return ErrStopped
	}
	sess := newSession(gen, stream, analyser, s.clock.NewTicker(s.interval))
	s.session = sess
	s.state = types.SamplerSampling
	s.peakHolder.Reset()
	s.mu.Unlock()

	s.metrics.SamplerSessions.Inc()
	slog.Info("sampler started", "session", gen, "interval", s.interval)

	go s.feed(sess)
	go s.run(sess)
	return nil
}

func (s *Sampler) failAcquire(gen uint64, err error) {
	s.mu.Lock()
	if s.gen == gen && s.state == types.SamplerAcquiring {
		s.state = types.SamplerIdle
	}
	s.mu.Unlock()

	reason := "device"
	if errors.Is(err, types.ErrPermissionDenied) {
		reason = "permission"
	}
	s.metrics.SamplerFailures.WithLabelValues(reason).Inc()
	slog.Warn("sampler start failed", "session", gen, "error", err)
}

// Stop ends the current session, if any, and returns to Idle. It is safe to
// call in any state and more than once. When Stop returns, no further level
// is published for the stopped session.
func (s *Sampler) Stop() {
	s.endSession(0, false)
}

// Close stops any session and refuses further starts.
func (s *Sampler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.endSession(0, false)
}

// endSession releases the current session. When onlyGen is set, only a
// session of generation gen is ended.
func (s *Sampler) endSession(gen uint64, onlyGen bool) {
	s.mu.Lock()
	sess := s.session
	if onlyGen && (sess == nil || sess.gen != gen) {
		s.mu.Unlock()
		return
	}
	if s.state != types.SamplerIdle {
		// Invalidates in-flight ticks and pending acquisitions.
		s.gen++
		s.state = types.SamplerIdle
	}
	s.session = nil
	s.mu.Unlock()

	if sess == nil {
		return
	}
	if sess.release() {
		s.metrics.SamplerSessions.Dec()
		slog.Info("sampler stopped", "session", sess.gen)
	}
	sess.wait()
}

// feed copies PCM from the stream into the analyser until the stream ends.
func (s *Sampler) feed(sess *session) {
	_, err := io.Copy(sess.analyser, sess.stream)
	if sess.released() {
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	slog.Warn("audio stream ended", "session", sess.gen, "error", err)
	s.endSession(sess.gen, true)
	if s.onEnded != nil {
		s.onEnded(fmt.Errorf("%w: %w", types.ErrDeviceUnavailable, err))
	}
}

// run publishes one level per tick until the session is released.
func (s *Sampler) run(sess *session) {
	defer close(sess.done)
	for {
		select {
		case <-sess.stop:
			return
		case now := <-sess.ticker.Chan():
			s.tick(sess, now)
		}
	}
}

func (s *Sampler) tick(sess *session, now time.Time) {
	n := sess.analyser.ReadMagnitudes(sess.buf)
	level := audio.LevelFromMagnitudes(sess.buf[:n])
	meter := sess.analyser.Levels()

	s.mu.Lock()
	if s.gen != sess.gen || s.state != types.SamplerSampling {
		s.mu.Unlock()
		s.metrics.SamplerTicks.WithLabelValues("discarded").Inc()
		return
	}
	s.level, s.hasLevel = level, true
	label, hint := audio.Describe(level)
	reading := types.LevelReading{
		Level:       level,
		PeakLevel:   s.peakHolder.Update(level, now),
		RMSDB:       meter.RMS,
		PeakDB:      meter.Peak,
		Description: label,
		Hint:        hint,
		At:          now,
	}
	s.mu.Unlock()

	s.metrics.SamplerTicks.WithLabelValues("published").Inc()
	s.metrics.LastLevel.Set(float64(level))
	s.onReading(reading)
}

func closeStream(stream io.Closer) {
	if err := stream.Close(); err != nil {
		slog.Warn("failed to close audio stream", "error", err)
	}
}
