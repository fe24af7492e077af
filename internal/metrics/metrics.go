// Package metrics exposes the node's Prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naivechain_http_requests_total",
		Help: "Total admin HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "naivechain_http_request_duration_seconds",
		Help:    "Admin request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naivechain_gossip_messages_total",
		Help: "Gossip messages by direction (in, out) and type.",
	}, []string{"direction", "type"})

	malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naivechain_gossip_malformed_total",
		Help: "Inbound gossip frames dropped because they could not be parsed.",
	})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naivechain_reconcile_outcomes_total",
		Help: "Reconciliation outcomes for received chain data.",
	}, []string{"outcome"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naivechain_ledger_rejections_total",
		Help: "Candidate blocks or chains rejected by the ledger, by violated rule.",
	}, []string{"rule"})

	blocksMinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naivechain_blocks_mined_total",
		Help: "Blocks created locally through the admin surface.",
	})

	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "naivechain_chain_height",
		Help: "Index of the current tip block.",
	})

	peersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "naivechain_peers_connected",
		Help: "Number of currently registered peer sessions.",
	})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naivechain_http_rate_limited_total",
		Help: "Admin requests refused by the per-client rate limiter, by route.",
	}, []string{"path"})

	dialFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naivechain_peer_dial_failures_total",
		Help: "Outbound peer connection attempts that failed.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordMessage counts a gossip message. direction is "in" or "out".
func RecordMessage(direction, msgType string) {
	messagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordMalformed counts a dropped inbound frame.
func RecordMalformed() {
	malformedTotal.Inc()
}

// RecordReconcile counts a reconciliation outcome.
func RecordReconcile(outcome string) {
	reconcileTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection counts a ledger rejection. It matches ledger.RejectFunc.
func RecordRejection(rule string) {
	rejectionsTotal.WithLabelValues(rule).Inc()
}

// RecordMined counts a locally mined block.
func RecordMined() {
	blocksMinedTotal.Inc()
}

// SetChainHeight sets the tip index gauge.
func SetChainHeight(index int64) {
	chainHeight.Set(float64(index))
}

// SetPeers sets the connected peers gauge.
func SetPeers(n int) {
	peersConnected.Set(float64(n))
}

// RecordDialFailure counts a failed outbound connection attempt.
func RecordDialFailure() {
	dialFailuresTotal.Inc()
}

// RecordRateLimited counts a request refused by the rate limiter.
func RecordRateLimited(path string) {
	if path == "" {
		path = "unmatched"
	}
	rateLimitedTotal.WithLabelValues(path).Inc()
}
