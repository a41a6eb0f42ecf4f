// Package broker publishes every new observation to a Kafka topic.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// Publisher defaults.
const (
	DefaultMaxAttempts = 3
	writeTimeout       = 10 * time.Second
)

// MessageWriter is the part of the Kafka writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Subscriber is the part of the store the publisher listens to.
type Subscriber interface {
	Subscribe(handler func(types.Observation)) (store.Subscription, error)
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// Publisher writes insert events to Kafka, keyed by observation ID.
type Publisher struct {
	writer      MessageWriter
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxAttempts int
	backoff     func() *util.Backoff

	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	sub store.Subscription
}

// NewPublisher creates a publisher around writer.
func NewPublisher(writer MessageWriter, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		writer:      writer,
		logger:      logger,
		metrics:     metrics,
		maxAttempts: DefaultMaxAttempts,
		backoff: func() *util.Backoff {
			return util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay)
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to insert events. Messages are written in insert order.
func (p *Publisher) Start(src Subscriber) error {
	sub, err := src.Subscribe(p.publish)
	if err != nil {
		return fmt.Errorf("subscribe broker: %w", err)
	}
	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()
	return nil
}

func (p *Publisher) publish(o types.Observation) {
	msg, err := serializeToMessage(o)
	if err != nil {
		p.logger.Error("failed to serialize report", "id", o.ID, "error", err)
		p.metrics.BrokerMessages.WithLabelValues("error").Inc()
		return
	}

	backoff := p.backoff()
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
		err = p.writer.WriteMessages(ctx, msg)
		cancel()
		if err == nil {
			p.metrics.BrokerMessages.WithLabelValues("success").Inc()
			return
		}

		p.logger.Warn("kafka write failed", "id", o.ID, "attempt", attempt, "error", err)
		if attempt >= p.maxAttempts || !backoff.Wait(p.ctx) {
			break
		}
	}
	p.metrics.BrokerMessages.WithLabelValues("error").Inc()
}

// Close unsubscribes and closes the writer.
func (p *Publisher) Close() error {
	p.cancel()

	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	return p.writer.Close()
}

// serializeToMessage marshals an observation into a Kafka message.
func serializeToMessage(o types.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(o.Category)},
			{Key: "recorded_at", Value: []byte(o.RecordedAt.Format(time.RFC3339))},
		},
	}, nil
}
