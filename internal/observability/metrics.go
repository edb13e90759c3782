package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of a node. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// State
	RecordsLoaded  *prometheus.GaugeVec
	RecordsFlushed *prometheus.CounterVec
	FlushDuration  prometheus.Histogram
	PersistErrors  *prometheus.CounterVec

	// Cache
	CacheLookups *prometheus.CounterVec
	CacheSize    prometheus.Gauge

	// Replication
	MessagesPublished *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	CrossNodePlayers  prometheus.Gauge

	// Processor
	ProcessorRuns     prometheus.Counter
	ProcessorDuration prometheus.Histogram
	ProcessorUpdates  *prometheus.CounterVec
	ProcessorFailures *prometheus.CounterVec

	// Workers
	PoolRejected prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RecordsLoaded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shopsync_records_loaded",
			Help: "Records held in memory",
		}, []string{"kind"}),

		RecordsFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_records_flushed_total",
			Help: "Dirty records handed to the store",
		}, []string{"kind"}),

		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopsync_flush_duration_seconds",
			Help:    "Time to collect and persist dirty records",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_persist_errors_total",
			Help: "Failed store operations",
		}, []string{"operation"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),

		CacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "shopsync_cache_entries",
			Help: "Entries in the local record cache",
		}),

		MessagesPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_sync_messages_published_total",
			Help: "Sync messages published",
		}, []string{"type"}),

		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_sync_messages_received_total",
			Help: "Sync messages applied from other nodes",
		}, []string{"type"}),

		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_sync_messages_dropped_total",
			Help: "Sync messages dropped",
		}, []string{"reason"}),

		CrossNodePlayers: f.NewGauge(prometheus.GaugeOpts{
			Name: "shopsync_cross_node_players",
			Help: "Player names last reported by other nodes",
		}),

		ProcessorRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_processor_runs_total",
			Help: "Batch processor scans",
		}),

		ProcessorDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopsync_processor_duration_seconds",
			Help:    "Time to scan shops and build a batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		ProcessorUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_processor_updates_total",
			Help: "Batch items applied",
		}, []string{"kind"}),

		ProcessorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_processor_failures_total",
			Help: "Batch items that failed to apply",
		}, []string{"kind"}),

		PoolRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "shopsync_pool_rejected_total",
			Help: "Tasks dropped because the worker queue was full",
		}),
	}
}

func (m *Metrics) SetLoaded(kind string, n int) {
	if m == nil {
		return
	}
	m.RecordsLoaded.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) AddFlushed(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsFlushed.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveFlush(seconds float64) {
	if m == nil {
		return
	}
	m.FlushDuration.Observe(seconds)
}

func (m *Metrics) PersistError(operation string) {
	if m == nil {
		return
	}
	m.PersistErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheSize.Set(float64(n))
}

func (m *Metrics) Published(kind string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) Received(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetCrossNodePlayers(n int) {
	if m == nil {
		return
	}
	m.CrossNodePlayers.Set(float64(n))
}

func (m *Metrics) ObserveProcessorRun(seconds float64) {
	if m == nil {
		return
	}
	m.ProcessorRuns.Inc()
	m.ProcessorDuration.Observe(seconds)
}

func (m *Metrics) ProcessorApplied(kind string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.ProcessorUpdates.WithLabelValues(kind).Inc()
		return
	}
	m.ProcessorFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) PoolReject() {
	if m == nil {
		return
	}
	m.PoolRejected.Inc()
}
