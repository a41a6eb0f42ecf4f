package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-ecoscan/internal/geo"
	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// flakySource fails SelectAll while failing is set.
type flakySource struct {
	*store.Memory
	mu      sync.Mutex
	failing bool
}

func (s *flakySource) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *flakySource) SelectAll(ctx context.Context) ([]types.Observation, error) {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return nil, errors.New("connection reset")
	}
	return s.Memory.SelectAll(ctx)
}

func newSource(t *testing.T) (*flakySource, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clock, observability.NewMetricsForTesting())
	t.Cleanup(func() { _ = mem.Close() })
	return &flakySource{Memory: mem}, clock
}

func insert(t *testing.T, s *flakySource, clock *clockwork.FakeClock, c types.Category, level int) types.Observation {
	t.Helper()
	o, err := s.Insert(context.Background(), types.Observation{
		Category: c,
		Level:    level,
		Position: types.Position{Lat: 19.07, Lng: 72.87},
	})
	require.NoError(t, err)
	clock.Advance(time.Second)
	return o
}

func TestLoadInitialThenInsertPrepends(t *testing.T) {
	src, clock := newSource(t)
	insert(t, src, clock, types.CategoryNoise, 20)
	insert(t, src, clock, types.CategorySmoke, 0)

	f := New(src, nil, DefaultCenter)
	require.NoError(t, f.LoadInitial(context.Background()))
	before := f.State().Observations
	require.Len(t, before, 2)

	got := make(chan types.Observation, 1)
	require.NoError(t, f.SubscribeInserts(func(o types.Observation) { got <- o }))
	defer f.Unsubscribe()

	inserted := insert(t, src, clock, types.CategoryGarbage, 0)
	select {
	case o := <-got:
		assert.Equal(t, inserted, o)
	case <-time.After(time.Second):
		t.Fatal("insert event not delivered")
	}

	after := f.State().Observations
	require.Len(t, after, 3)
	assert.Equal(t, inserted, after[0])
	if diff := cmp.Diff(before, after[1:]); diff != "" {
		t.Errorf("remaining sequence changed (-before +after):\n%s", diff)
	}
}

func TestInsertsApplyInArrivalOrder(t *testing.T) {
	src, clock := newSource(t)
	f := New(src, nil, DefaultCenter)

	var mu sync.Mutex
	var seen []string
	require.NoError(t, f.SubscribeInserts(func(o types.Observation) {
		mu.Lock()
		seen = append(seen, o.ID)
		mu.Unlock()
	}))
	defer f.Unsubscribe()

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, insert(t, src, clock, types.CategoryNoise, i).ID)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(ids)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, ids, seen)
	mu.Unlock()

	state := f.State().Observations
	for i, o := range state {
		assert.Equal(t, ids[len(ids)-1-i], o.ID, "newest first")
	}
}

func TestLoadInitialFailureKeepsPreviousSequence(t *testing.T) {
	src, clock := newSource(t)
	insert(t, src, clock, types.CategoryNoise, 85)

	f := New(src, nil, DefaultCenter)
	require.NoError(t, f.LoadInitial(context.Background()))

	src.setFailing(true)
	err := f.LoadInitial(context.Background())
	require.ErrorIs(t, err, types.ErrNetworkFailure)
	assert.Len(t, f.State().Observations, 1)
}

func TestLoadInitialDoesNotDeduplicate(t *testing.T) {
	src, clock := newSource(t)
	f := New(src, nil, DefaultCenter)

	got := make(chan struct{}, 1)
	require.NoError(t, f.SubscribeInserts(func(types.Observation) { got <- struct{}{} }))
	defer f.Unsubscribe()

	o := insert(t, src, clock, types.CategorySmoke, 0)
	<-got
	require.NoError(t, f.LoadInitial(context.Background()))
	// Simulate the racing delivery of the same record after the load.
	src.Publish(o)
	<-got

	ids := []string{}
	for _, obs := range f.State().Observations {
		ids = append(ids, obs.ID)
	}
	assert.Equal(t, []string{o.ID, o.ID}, ids)
}

func TestUnsubscribeTwice(t *testing.T) {
	src, clock := newSource(t)
	f := New(src, nil, DefaultCenter)

	calls := make(chan struct{}, 4)
	require.NoError(t, f.SubscribeInserts(func(types.Observation) { calls <- struct{}{} }))
	assert.ErrorIs(t, f.SubscribeInserts(nil), ErrAlreadySubscribed)

	f.Unsubscribe()
	f.Unsubscribe()
	assert.Equal(t, 0, src.Len())

	insert(t, src, clock, types.CategoryNoise, 50)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, calls)
	assert.Empty(t, f.State().Observations)

	require.NoError(t, f.SubscribeInserts(nil), "resubscribe after release")
	f.Unsubscribe()
}

func TestTrackViewerPosition(t *testing.T) {
	src, _ := newSource(t)

	f := New(src, geo.NewStatic(nil), DefaultCenter)
	err := f.TrackViewerPosition(context.Background())
	assert.ErrorIs(t, err, types.ErrLocationUnavailable)
	assert.Nil(t, f.State().Viewer)
	assert.Equal(t, types.Position{Lat: 19.076, Lng: 72.8777}, f.Center())

	viewer := types.Position{Lat: 52.37, Lng: 4.89}
	f = New(src, geo.NewStatic(&viewer), DefaultCenter)
	require.NoError(t, f.TrackViewerPosition(context.Background()))
	require.NotNil(t, f.State().Viewer)
	assert.Equal(t, viewer, *f.State().Viewer)
	assert.Equal(t, viewer, f.Center())
}

func TestStateIsACopy(t *testing.T) {
	src, clock := newSource(t)
	insert(t, src, clock, types.CategoryNoise, 10)
	f := New(src, nil, DefaultCenter)
	require.NoError(t, f.LoadInitial(context.Background()))

	s := f.State()
	s.Observations[0].Level = 99
	assert.Equal(t, 10, f.State().Observations[0].Level)
}

func TestMarkers(t *testing.T) {
	src, clock := newSource(t)
	insert(t, src, clock, types.CategoryNoise, 85)
	insert(t, src, clock, types.CategorySmoke, 3)
	f := New(src, nil, DefaultCenter)
	require.NoError(t, f.LoadInitial(context.Background()))

	markers := f.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, types.ColorIndigo, markers[0].Color)
	assert.Equal(t, types.ColorRed, markers[1].Color)
	assert.Equal(t, 220, markers[1].Radius)
}
