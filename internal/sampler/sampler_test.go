package sampler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-ecoscan/internal/audio"
	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

const interval = 50 * time.Millisecond

// fakeStream blocks reads until closed.
type fakeStream struct {
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{closed: make(chan struct{})}
}

func (f *fakeStream) Read([]byte) (int, error) {
	<-f.closed
	return 0, io.EOF
}

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeInput struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (f *fakeInput) Open(context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeInput) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

// fakeAnalyser reports a constant magnitude in every bin. When gate is set,
// ReadMagnitudes waits on it.
type fakeAnalyser struct {
	value   uint8
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeAnalyser) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeAnalyser) FrequencyBinCount() int      { return 128 }
func (f *fakeAnalyser) Levels() audio.Levels        { return audio.Levels{RMS: -20, Peak: -6} }

func (f *fakeAnalyser) ReadMagnitudes(dst []uint8) int {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	for i := range dst {
		dst[i] = f.value
	}
	return len(dst)
}

type harness struct {
	sampler  *Sampler
	input    *fakeInput
	analyser *fakeAnalyser
	clock    *clockwork.FakeClock
	metrics  *observability.Metrics
	readings chan types.LevelReading
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		input:    &fakeInput{},
		analyser: &fakeAnalyser{value: 128},
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		metrics:  observability.NewMetricsForTesting(),
		readings: make(chan types.LevelReading, 16),
	}
	h.sampler = New(Options{
		Input:        h.input,
		NewAnalyser:  func() (Analyser, error) { return h.analyser, nil },
		Clock:        h.clock,
		TickInterval: interval,
		OnReading:    func(r types.LevelReading) { h.readings <- r },
		Metrics:      h.metrics,
	})
	t.Cleanup(h.sampler.Close)
	return h
}

func (h *harness) advance(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(interval)
}

func (h *harness) next(t *testing.T) types.LevelReading {
	t.Helper()
	select {
	case r := <-h.readings:
		return r
	case <-time.After(time.Second):
		t.Fatal("no reading published")
		return types.LevelReading{}
	}
}

func (h *harness) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.readings:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartPublishesLevels(t *testing.T) {
	h := newHarness(t)

	_, ok := h.sampler.Level()
	assert.False(t, ok)

	require.NoError(t, h.sampler.Start(context.Background()))
	assert.Equal(t, types.SamplerSampling, h.sampler.State())

	_, ok = h.sampler.Level()
	assert.False(t, ok, "no level before the first tick")

	h.advance(t)
	r := h.next(t)
	assert.Equal(t, 50, r.Level)
	assert.Equal(t, 50, r.PeakLevel)
	assert.Equal(t, "Moderate", r.Description)
	assert.Equal(t, types.ColorAmber, r.Hint)
	assert.InDelta(t, -20, r.RMSDB, 0)

	level, ok := h.sampler.Level()
	assert.True(t, ok)
	assert.Equal(t, 50, level)
	assert.InDelta(t, 50, testutil.ToFloat64(h.metrics.LastLevel), 0)
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sampler.Start(context.Background()))
	assert.ErrorIs(t, h.sampler.Start(context.Background()), ErrAlreadyRunning)
}

func TestStartFailureReturnsToIdle(t *testing.T) {
	for _, sentinel := range []error{types.ErrPermissionDenied, types.ErrDeviceUnavailable} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			h := newHarness(t)
			h.input.err = sentinel

			err := h.sampler.Start(context.Background())
			require.ErrorIs(t, err, sentinel)
			assert.Equal(t, types.SamplerIdle, h.sampler.State())

			h.clock.Advance(time.Second)
			h.assertSilent(t)
		})
	}
}

func TestFailedRestartForgetsPreviousLevel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sampler.Start(context.Background()))
	h.advance(t)
	assert.Equal(t, 50, h.next(t).Level)
	h.sampler.Stop()

	level, ok := h.sampler.Level()
	require.True(t, ok)
	assert.Equal(t, 50, level)

	h.input.mu.Lock()
	h.input.err = types.ErrDeviceUnavailable
	h.input.mu.Unlock()

	require.ErrorIs(t, h.sampler.Start(context.Background()), types.ErrDeviceUnavailable)
	_, ok = h.sampler.Level()
	assert.False(t, ok)
}

func TestNoLevelAfterStop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sampler.Start(context.Background()))

	h.advance(t)
	h.next(t)

	h.sampler.Stop()
	assert.Equal(t, types.SamplerIdle, h.sampler.State())

	h.clock.Advance(10 * interval)
	h.assertSilent(t)
}

func TestStopDiscardsInFlightTick(t *testing.T) {
	h := newHarness(t)
	h.analyser.entered = make(chan struct{}, 1)
	h.analyser.gate = make(chan struct{})
	require.NoError(t, h.sampler.Start(context.Background()))

	h.advance(t)
	<-h.analyser.entered

	stopped := make(chan struct{})
	go func() {
		h.sampler.Stop()
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		return h.sampler.State() == types.SamplerIdle
	}, time.Second, time.Millisecond)
	close(h.analyser.gate)
	<-stopped

	h.assertSilent(t)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.SamplerTicks.WithLabelValues("discarded")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.SamplerTicks.WithLabelValues("published")), 0)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.sampler.Stop()
	assert.Equal(t, types.SamplerIdle, h.sampler.State())

	require.NoError(t, h.sampler.Start(context.Background()))
	stream := h.input.last()
	h.sampler.Stop()
	h.sampler.Stop()

	assert.Equal(t, int32(1), stream.closes.Load())
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.SamplerSessions), 0)
}

func TestCloseReleasesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sampler.Start(context.Background()))
	stream := h.input.last()

	h.sampler.Close()
	h.sampler.Close()
	h.sampler.Stop()

	assert.Equal(t, int32(1), stream.closes.Load())
	assert.ErrorIs(t, h.sampler.Start(context.Background()), ErrClosed)
}

func TestRestartStartsFresh(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sampler.Start(context.Background()))
	h.advance(t)
	h.next(t)
	h.sampler.Stop()

	level, ok := h.sampler.Level()
	assert.True(t, ok, "last level survives stop")
	assert.Equal(t, 50, level)

	h.analyser.value = 26
	require.NoError(t, h.sampler.Start(context.Background()))
	_, ok = h.sampler.Level()
	assert.False(t, ok)

	h.advance(t)
	r := h.next(t)
	assert.Equal(t, 10, r.Level)
	assert.Equal(t, 10, r.PeakLevel, "peak hold starts over")
}

func TestStreamEndReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	ended := make(chan error, 1)
	h.sampler.onEnded = func(err error) { ended <- err }

	require.NoError(t, h.sampler.Start(context.Background()))
	require.NoError(t, h.input.last().Close())

	select {
	case err := <-ended:
		assert.ErrorIs(t, err, types.ErrDeviceUnavailable)
	case <-time.After(time.Second):
		t.Fatal("stream end not reported")
	}
	assert.Equal(t, types.SamplerIdle, h.sampler.State())
}

func TestLevelsStayInRange(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sampler.Start(context.Background()))

	for _, v := range []uint8{0, 1, 127, 200, 255} {
		h.analyser.value = v
		h.advance(t)
		r := h.next(t)
		assert.GreaterOrEqual(t, r.Level, types.MinLevel)
		assert.LessOrEqual(t, r.Level, types.MaxLevel)
	}
}
