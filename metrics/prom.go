package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteLazyExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_paste_lazy_expired_total",
		Help: "no. of pastes deleted on read after their ttl elapsed",
	})
	KeyCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_key_insert_conflicts_total",
		Help: "no. of inserts retried after a key conflict",
	})
	DecryptionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upaste_decryption_failures_total",
			Help: "no. of reads rejected by decryption or signature checks",
		},
		[]string{"reason"},
	)
	EncryptionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upaste_encryption_operations_total",
			Help: "no. of encryption/decryption operations",
		},
		[]string{"operation"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_sweep_cycles_total",
		Help: "no. of expiry sweep cycles",
	})
	SweptPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_swept_pastes_total",
		Help: "no. of pastes removed by sweeps",
	})
	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upaste_sweep_failures_total",
		Help: "no. of failed sweep cycles",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upaste_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upaste_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	RateLimitBackend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upaste_rate_limit_backend_total",
			Help: "rate limit decisions by backend",
		},
		[]string{"backend"},
	)
)
