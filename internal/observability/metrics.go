package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ecoscan"

// Metrics holds the Prometheus counters and gauges for the station.
type Metrics struct {
	// Sampler metrics.
	SamplerTicks    *prometheus.CounterVec // labels: result={published,discarded}
	SamplerSessions prometheus.Gauge
	SamplerFailures *prometheus.CounterVec // labels: reason={permission,device}
	LastLevel       prometheus.Gauge

	// Store metrics.
	ReportsInserted     *prometheus.CounterVec // labels: outcome={success,error}
	EventsDelivered     prometheus.Counter
	ActiveSubscriptions prometheus.Gauge

	// Screens.
	ActiveScreens prometheus.Gauge

	// Fan-out metrics.
	ArchiveUploads     *prometheus.CounterVec // labels: outcome={success,error,dropped}
	BrokerMessages     *prometheus.CounterVec // labels: outcome={success,error}
	Alerts             *prometheus.CounterVec // labels: channel={webhook,email}, outcome={success,error}
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
}

func newMetrics(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		SamplerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampler_ticks_total",
			Help:      h("Sampler ticks by result; discarded ticks belonged to a stopped session."),
		}, []string{"result"}),
		SamplerSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampler_sessions_active",
			Help:      h("Number of sampler sessions currently holding an audio stream."),
		}),
		SamplerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampler_start_failures_total",
			Help:      h("Sampler start failures by reason."),
		}, []string{"reason"}),
		LastLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampler_last_level",
			Help:      h("Most recently published noise level (0-100)."),
		}),
		ReportsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_inserted_total",
			Help:      h("Observation inserts by outcome."),
		}, []string{"outcome"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insert_events_delivered_total",
			Help:      h("Insert events handed to subscribers."),
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      h("Number of open change-stream subscriptions."),
		}),
		ActiveScreens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "screens_active",
			Help:      h("Number of connected WebSocket screens."),
		}),
		ArchiveUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      h("S3 archive uploads by outcome."),
		}, []string{"outcome"}),
		BrokerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_total",
			Help:      h("Kafka messages written by outcome."),
		}, []string{"outcome"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      h("High-level alerts by channel and outcome."),
		}, []string{"channel", "outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      h("Geocoding API requests by outcome."),
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      h("Geocoding cache lookups by result."),
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      h("Mapbox API request duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SamplerTicks,
		m.SamplerSessions,
		m.SamplerFailures,
		m.LastLevel,
		m.ReportsInserted,
		m.EventsDelivered,
		m.ActiveSubscriptions,
		m.ActiveScreens,
		m.ArchiveUploads,
		m.BrokerMessages,
		m.Alerts,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
	}
}

// NewMetrics creates and registers all station metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
