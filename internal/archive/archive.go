// Package archive copies every new observation to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// Archive defaults.
const (
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 5
	uploadTimeout      = 30 * time.Second
)

// Subscriber is the part of the store the archive listens to.
type Subscriber interface {
	Subscribe(handler func(types.Observation)) (store.Subscription, error)
}

// Options configures an Archiver.
type Options struct {
	Bucket       string
	Prefix       string
	QueueSize    int
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Archiver uploads observations as JSON objects through a bounded queue and
// a single worker.
type Archiver struct {
	client  ObjectAPI
	opts    Options
	metrics *observability.Metrics

	queue  chan types.Observation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	sub store.Subscription
}

// New creates an archiver. Call Start to begin uploading.
func New(client ObjectAPI, opts Options, metrics *observability.Metrics) *Archiver {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = types.InitialRetryDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = types.MaxRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		client:  client,
		opts:    opts,
		metrics: metrics,
		queue:   make(chan types.Observation, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Key returns the object key for o: <prefix>/reports/YYYY/MM/DD/<id>.json.
func Key(prefix string, o types.Observation) string {
	day := o.RecordedAt.UTC()
	return path.Join(prefix, "reports", day.Format("2006"), day.Format("01"), day.Format("02"), o.ID+".json")
}

// Start subscribes to insert events and starts the upload worker.
func (a *Archiver) Start(src Subscriber) error {
	sub, err := src.Subscribe(a.enqueue)
	if err != nil {
		return fmt.Errorf("subscribe archive: %w", err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	a.wg.Add(1)
	go a.worker()
	slog.Info("report archive started", "bucket", a.opts.Bucket, "prefix", a.opts.Prefix)
	return nil
}

func (a *Archiver) enqueue(o types.Observation) {
	select {
	case a.queue <- o:
	default:
		a.metrics.ArchiveUploads.WithLabelValues("dropped").Inc()
		slog.Warn("archive queue full, report not archived", "id", o.ID)
	}
}

// worker uploads queued reports, draining remaining items on shutdown.
func (a *Archiver) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			for {
				select {
				case o := <-a.queue:
					a.upload(context.Background(), o, 1)
				default:
					return
				}
			}
		case o := <-a.queue:
			a.upload(a.ctx, o, a.opts.MaxAttempts)
		}
	}
}

// upload tries up to attempts times with exponential backoff between tries.
func (a *Archiver) upload(ctx context.Context, o types.Observation, attempts int) {
	body, err := json.Marshal(o)
	if err != nil {
		slog.Error("failed to encode report", "id", o.ID, "error", err)
		a.metrics.ArchiveUploads.WithLabelValues("error").Inc()
		return
	}

	key := Key(a.opts.Prefix, o)
	backoff := util.NewBackoff(a.opts.InitialDelay, a.opts.MaxDelay)

	for attempt := 1; ; attempt++ {
		err = a.put(ctx, key, body)
		if err == nil {
			a.metrics.ArchiveUploads.WithLabelValues("success").Inc()
			slog.Debug("report archived", "id", o.ID, "key", key)
			return
		}

		slog.Warn("archive upload failed", "id", o.ID, "key", key, "attempt", attempt, "error", err)
		if attempt >= attempts || !backoff.Wait(ctx) {
			break
		}
	}

	a.metrics.ArchiveUploads.WithLabelValues("error").Inc()
	slog.Error("report not archived", "id", o.ID, "key", key, "error", err)
}

func (a *Archiver) put(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	return err
}

// Close unsubscribes, then uploads what is still queued once and stops.
func (a *Archiver) Close() {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	a.cancel()
	a.wg.Wait()
}
