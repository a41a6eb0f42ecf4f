package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	fails  int
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fails > 0 {
		w.fails--
		return errors.New("leader not available")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.msgs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackoff() *util.Backoff {
	return util.NewBackoff(time.Millisecond, time.Millisecond)
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2026, 4, 26, 15, 10, 0, 0, time.UTC)
	msg, err := serializeToMessage(types.Observation{
		ID:         "obs-1",
		Category:   types.CategoryNoise,
		Level:      72,
		Position:   types.Position{Lat: 19.1, Lng: 72.9},
		RecordedAt: now,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("obs-1"), msg.Key)
	assert.JSONEq(t, `{"id":"obs-1","type":"noise","level":72,"lat":19.1,"lng":72.9,"timestamp":"2026-04-26T15:10:00Z"}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, []byte("noise"), msg.Headers[0].Value)
	assert.Equal(t, "recorded_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestPublisherWritesInsertsInOrder(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	mem := store.NewMemory(nil, metrics)
	defer mem.Close()

	w := &fakeWriter{}
	p := NewPublisher(w, testLogger(), metrics)
	require.NoError(t, p.Start(mem))

	var ids []string
	for i := 0; i < 5; i++ {
		o, err := mem.Insert(context.Background(), types.Observation{Category: types.CategoryGarbage})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	require.Eventually(t, func() bool { return len(w.written()) == len(ids) }, time.Second, 5*time.Millisecond)
	for i, msg := range w.written() {
		assert.Equal(t, ids[i], string(msg.Key))
	}

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, 0, mem.Len())
}

func TestPublisherRetries(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	w := &fakeWriter{fails: 2}
	p := NewPublisher(w, testLogger(), metrics)
	p.backoff = fastBackoff

	p.publish(types.Observation{ID: "x", Category: types.CategoryNoise})
	assert.Len(t, w.written(), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BrokerMessages.WithLabelValues("success")), 0)
}

func TestPublisherGivesUp(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	w := &fakeWriter{fails: 10}
	p := NewPublisher(w, testLogger(), metrics)
	p.backoff = fastBackoff

	p.publish(types.Observation{ID: "x"})
	assert.Empty(t, w.written())
	assert.Equal(t, 10-DefaultMaxAttempts, w.fails)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BrokerMessages.WithLabelValues("error")), 0)
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"localhost:9092"}, "environmental-reports")
	assert.Equal(t, "environmental-reports", w.Topic)
	assert.Equal(t, kafkago.RequireAll, w.RequiredAcks)
}
