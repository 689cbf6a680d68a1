package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteViewed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_paste_viewed_total",
		Help: "no. of pastes viewed",
	})
	PasteExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_paste_expired_total",
		Help: "no. of pastes purged after their expiry",
	})
	UnlockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdbin_unlock_attempts_total",
			Help: "no. of password attempts against protected pastes",
		},
		[]string{"outcome"},
	)
	ReportFiled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_report_filed_total",
		Help: "no. of moderation reports filed",
	})
	AdminActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdbin_admin_actions_total",
			Help: "no. of authenticated admin operations",
		},
		[]string{"action"},
	)
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdbin_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
)
