package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_retrieved_total",
		Help: "no. of successful paste lookups",
	})
	PasteMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_misses_total",
		Help: "no. of lookups for absent or expired pastes",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_paste_deleted_total",
		Help: "no. of pastes removed explicitly",
	})
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_id_collisions_total",
		Help: "no. of generated ids that were already taken",
	})
	LivePastes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastebox_pastes",
		Help: "pastes currently held in memory, including expired ones not yet swept",
	})
	Flushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_flushes_total",
		Help: "no. of successful snapshot writes",
	})
	FlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_flush_errors_total",
		Help: "no. of failed snapshot writes",
	})
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pastebox_flush_duration_seconds",
		Help:    "snapshot encode and write latency",
		Buckets: prometheus.DefBuckets,
	})
	SnapshotBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastebox_snapshot_bytes",
		Help: "size of the last snapshot written",
	})
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_sweep_cycles_total",
		Help: "no. of expiration sweeps",
	})
	SweepEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebox_sweep_evicted_total",
		Help: "no. of expired pastes evicted",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebox_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebox_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
)
