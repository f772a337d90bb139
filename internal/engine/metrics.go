package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Lookups: обращения к облачному черному списку по результату (flagged, clean, error, config_missing)
	LookupsTotal *prometheus.CounterVec

	// Latency: время ответа репутационного API
	LookupDuration prometheus.Histogram

	// Saturation: сколько ждали окно лимитера
	LimiterWait prometheus.Histogram

	// Saturation: текущая заполненность скользящего окна
	LimiterWindow prometheus.Gauge

	// Scans: пачечные проверки групп
	ScansTotal   prometheus.Counter
	FlaggedTotal *prometheus.CounterVec

	// Removals: исключения из групп (source = scan|join, status = ok|failed)
	RemovalsTotal *prometheus.CounterVec

	// Pending: группы, ждущие подтверждения
	PendingBatches   prometheus.Gauge
	ExpiredBatches   prometheus.Counter
	JanitorFailures  prometheus.Counter
	JoinEventsTotal  *prometheus.CounterVec
	HostBreakerState *prometheus.GaugeVec

	// Journal: заполненность буфера журнала (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		LookupsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_lookups_total",
			Help: "Total number of reputation lookups by outcome.",
		}, []string{"result"}),

		LookupDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "guard_lookup_duration_seconds",
			Help:    "Histogram of reputation API latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		LimiterWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "guard_limiter_wait_seconds",
			Help:    "Time spent waiting for a slot in the sliding window.",
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5},
		}),

		LimiterWindow: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guard_limiter_window_size",
			Help: "Number of requests recorded in the current sliding window.",
		}),

		ScansTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guard_scans_total",
			Help: "Total number of group scans.",
		}),

		FlaggedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_flagged_total",
			Help: "Total number of flagged members found.",
		}, []string{"source"}),

		RemovalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_removals_total",
			Help: "Total number of member removals by source and status.",
		}, []string{"source", "status"}),

		PendingBatches: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guard_pending_batches",
			Help: "Number of groups with a staged scan result.",
		}),

		ExpiredBatches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guard_expired_batches_total",
			Help: "Total number of staged batches evicted by the janitor.",
		}),

		JanitorFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guard_janitor_failures_total",
			Help: "Janitor iterations that panicked.",
		}),

		JoinEventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_join_events_total",
			Help: "Member join events by outcome.",
		}, []string{"outcome"}), // skipped, no_key, clean, blocked, error

		HostBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_host_circuit_breaker_state",
			Help: "Current state of the host API circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guard_journal_buffer_utilization",
			Help: "Current number of events in moderation journal buffer.",
		}),
	}
}
