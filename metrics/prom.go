package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_paste_fetched_total",
		Help: "no. of pastes fetched",
	})
	TokenDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_token_decode_failures_total",
		Help: "no. of tokens that failed to decode",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_cache_misses_total",
		Help: "no. of cache misses",
	})
	ReapCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_reap_cycles_total",
		Help: "no. of reaper ticks",
	})
	ReapedPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastekv_reaped_pastes_total",
		Help: "no. of expired pastes purged",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastekv_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastekv_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastekv_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

func Init() {
}
