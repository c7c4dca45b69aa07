// Package metrics exports Gamify client activity as Prometheus metrics.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/masa-finance/gamify-sdk-go/pkg/gamify"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements gamify.Observer.
type Collector struct {
	requests  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	remaining prometheus.Gauge
	limit     prometheus.Gauge
}

var _ gamify.Observer = (*Collector)(nil)

// NewCollector creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		// requests counts attempts per route, status and failure kind
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamify_requests_total",
				Help: "Total number of Gamify API request attempts",
			},
			[]string{"method", "path", "status", "kind"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamify_retries_total",
				Help: "Total number of rate-limited requests retried",
			},
			[]string{"method", "path"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gamify_request_duration_seconds",
				Help:    "Gamify API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamify_rate_limit_remaining",
			Help: "Requests remaining in the current rate limit window",
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamify_rate_limit_limit",
			Help: "Size of the current rate limit window",
		}),
	}

	for _, col := range []prometheus.Collector{c.requests, c.retries, c.latency, c.remaining, c.limit} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveAttempt records one dispatch.
func (c *Collector) ObserveAttempt(method, path string, status int, kind gamify.Kind, d time.Duration) {
	k := string(kind)
	if k == "" {
		k = "none"
	}
	route := RouteLabel(path)
	c.requests.WithLabelValues(method, route, strconv.Itoa(status), k).Inc()
	c.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveRetry records a rate-limit retry.
func (c *Collector) ObserveRetry(method, path string, _ int, _ time.Duration) {
	c.retries.WithLabelValues(method, RouteLabel(path)).Inc()
}

// collections whose next path segment is a caller-supplied identifier
var collections = map[string]bool{
	"users":          true,
	"leaderboards":   true,
	"badges":         true,
	"questionnaires": true,
}

// RouteLabel replaces identifiers in path with ":id" to keep label cardinality bounded.
func RouteLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if collections[segments[i-1]] {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// ObserveRateLimit updates the rate limit gauges. Unknown counters are skipped.
// It can be used directly as a gamify.RateLimitWarningFunc.
func (c *Collector) ObserveRateLimit(info gamify.RateLimitInfo) {
	if !info.Known() {
		return
	}
	c.remaining.Set(float64(info.Remaining))
	c.limit.Set(float64(info.Limit))
}
