// Package metrics exposes Prometheus counters for placement outcomes and
// HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rehabsim"

// SchedulingMetrics counts what the rule engine decides.
type SchedulingMetrics struct {
	placements       *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	placementLatency *prometheus.HistogramVec
	lockContention   prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "placements_total",
			Help:      "Care-plan placement attempts by outcome and failing stage",
		}, []string{"outcome", "stage"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "rejections_total",
			Help:      "Legality checks that rejected a slot, by reason",
		}, []string{"reason"}),
		placementLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "placement_duration_seconds",
			Help:      "Time to place a care plan, including calendar load",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "lock_contention_total",
			Help:      "Bookings refused because the clinician calendar was locked",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.placements, m.rejections, m.placementLatency, m.lockContention)
	return m
}

// ObservePlacement records one care-plan attempt. stage is empty on success.
func (m *SchedulingMetrics) ObservePlacement(mode string, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "placed"
	if stage != "" {
		outcome = "failed"
	}
	m.placements.WithLabelValues(outcome, stage).Inc()
	m.placementLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *SchedulingMetrics) ObserveRejection(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *SchedulingMetrics) ObserveLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

// HTTPMetrics counts requests by route template.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// Middleware records every request. A returned error has not been rendered
// yet, so its status comes from the error: the HTTPError code, or 500.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
