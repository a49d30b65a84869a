// Package metrics は Prometheus 指標をまとめる。nil の *Metrics はすべて no-op。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "libportal"

type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// 貸出・返却
	Borrows      *prometheus.CounterVec
	Returns      *prometheus.CounterVec
	OverdueSwept prometheus.Counter

	// 変更フィード
	FeedSubscribers prometheus.Gauge
	FeedPublished   *prometheus.CounterVec
	FeedDropped     prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		Borrows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "borrows_total",
			Help:      "Borrow attempts by outcome",
		}, []string{"outcome"}),
		Returns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Return attempts by outcome",
		}, []string{"outcome"}),
		OverdueSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overdue_loans_marked_total",
			Help:      "Loans moved to overdue by the sweep",
		}),
		FeedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changefeed_subscribers",
			Help:      "Connected change feed subscribers",
		}),
		FeedPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changefeed_published_total",
			Help:      "Change events published by table",
		}, []string{"table"}),
		FeedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changefeed_dropped_total",
			Help:      "Change events dropped for slow subscribers",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GinMiddleware records request count and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) BorrowOutcome(outcome string) {
	if m != nil {
		m.Borrows.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ReturnOutcome(outcome string) {
	if m != nil {
		m.Returns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OverdueMarked(n int64) {
	if m != nil && n > 0 {
		m.OverdueSwept.Add(float64(n))
	}
}

func (m *Metrics) Published(table string) {
	if m != nil {
		m.FeedPublished.WithLabelValues(table).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.FeedDropped.Inc()
	}
}

func (m *Metrics) SubscriberDelta(d float64) {
	if m != nil {
		m.FeedSubscribers.Add(d)
	}
}
