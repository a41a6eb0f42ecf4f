// Package notify sends alerts for reports above the alert threshold.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

const (
	// sendTimeout bounds one alert delivery including retries.
	sendTimeout = 2 * time.Minute
	// drainTimeout bounds how long Close waits for in-flight alerts.
	drainTimeout = 30 * time.Second
)

var timeNow = time.Now

// Config holds the alert channels and threshold.
type Config struct {
	StationName string
	WebhookURL  string
	Graph       GraphConfig
	Threshold   int
}

// Subscriber is the part of the store the notifier listens to.
type Subscriber interface {
	Subscribe(handler func(types.Observation)) (store.Subscription, error)
}

// AlertNotifier sends a webhook and/or email for each report above the threshold.
type AlertNotifier struct {
	cfg     Config
	metrics *observability.Metrics

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	drainTimeout time.Duration

	// mu protects the fields below
	mu          sync.Mutex
	sub         store.Subscription
	graphClient *GraphClient
	closed      bool
}

// NewAlertNotifier returns an AlertNotifier for cfg.
func NewAlertNotifier(cfg Config, metrics *observability.Metrics) *AlertNotifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertNotifier{
		cfg:          cfg,
		metrics:      metrics,
		ctx:          ctx,
		cancel:       cancel,
		drainTimeout: drainTimeout,
	}
}

// Enabled reports whether any alert channel is configured.
func (n *AlertNotifier) Enabled() bool {
	return util.IsConfigured(n.cfg.WebhookURL) || IsConfigured(&n.cfg.Graph)
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *AlertNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// Start subscribes to insert events.
func (n *AlertNotifier) Start(src Subscriber) error {
	sub, err := src.Subscribe(n.HandleReport)
	if err != nil {
		return fmt.Errorf("subscribe notifier: %w", err)
	}
	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()
	return nil
}

// HandleReport dispatches alerts for o if its level is above the threshold.
// Deliveries run in the background.
func (n *AlertNotifier) HandleReport(o types.Observation) {
	if o.Level <= n.cfg.Threshold {
		return
	}

	// Sends start under mu so Close never waits while one is being added.
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	if util.IsConfigured(n.cfg.WebhookURL) {
		n.goSend(channelWebhook, o, func(ctx context.Context) error {
			return SendAlertWebhook(ctx, n.cfg.WebhookURL, o, n.cfg.Threshold)
		})
	}
	if IsConfigured(&n.cfg.Graph) {
		n.goSend(channelEmail, o, func(ctx context.Context) error {
			return n.sendAlertEmail(ctx, o)
		})
	}
}

func (n *AlertNotifier) goSend(channel string, o types.Observation, send func(context.Context) error) {
	n.wg.Go(func() {
		ctx, cancel := context.WithTimeout(n.ctx, sendTimeout)
		defer cancel()
		n.logNotifyResult(func() error { return send(ctx) }, channel, o.ID)
	})
}

// Close unsubscribes and waits for in-flight alerts to finish. Deliveries
// still running after the drain timeout are cancelled.
func (n *AlertNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(n.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("alert drain timed out, cancelling pending deliveries", "timeout", n.drainTimeout)
		n.cancel()
		<-done
	}
	n.cancel()
}
