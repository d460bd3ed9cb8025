package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync API.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_timeline_ingest_total",
			Help: "Timeline ingest outcomes by message source.",
		},
		[]string{"source", "outcome"},
	)
	upstreamState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_upstream_connected",
			Help: "Whether the upstream push channel is currently healthy.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_upstream_reconnects_total",
			Help: "Total number of upstream reconnect attempts.",
		},
	)
	pollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_poll_cycles_total",
			Help: "Total number of fallback poll cycles executed.",
		},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_ui_ws_active_connections",
			Help: "Number of active UI feed websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_ui_ws_events_total",
			Help: "Total number of UI feed websocket events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		ingestTotal,
		upstreamState,
		reconnectsTotal,
		pollCyclesTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// ObserveIngest counts a timeline ingest outcome.
func ObserveIngest(source, outcome string) {
	ingestTotal.WithLabelValues(source, outcome).Inc()
}

// SetUpstreamHealthy flips the push-channel health gauge.
func SetUpstreamHealthy(healthy bool) {
	if healthy {
		upstreamState.Set(1)
	} else {
		upstreamState.Set(0)
	}
}

// IncReconnect counts an upstream reconnect attempt.
func IncReconnect() {
	reconnectsTotal.Inc()
}

// IncPollCycle counts a fallback poll cycle.
func IncPollCycle() {
	pollCyclesTotal.Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
