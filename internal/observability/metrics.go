package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Total number of events applied to the sync ledger.",
		},
		[]string{"source", "result"},
	)
	malformedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_malformed_events_total",
			Help: "Total number of malformed payloads dropped at the normalizer.",
		},
		[]string{"source"},
	)
	pushConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_push_connected",
			Help: "1 when the push channel is connected, 0 otherwise.",
		},
	)
	pushReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_push_reconnects_total",
			Help: "Total number of push channel reconnect attempts.",
		},
	)
	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_poll_cycles_total",
			Help: "Total number of poll cycles by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	unreadDivergenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_unread_divergence_total",
			Help: "Times the server-reported unread total disagreed with the local ledger.",
		},
	)
	failedSendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_failed_sends_total",
			Help: "Optimistic sends that expired without server confirmation.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of requests served by the local UI surface.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Local HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP audit publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		syncEventsTotal,
		malformedEventsTotal,
		pushConnectionState,
		pushReconnectsTotal,
		pollCyclesTotal,
		unreadDivergenceTotal,
		failedSendsTotal,
		httpRequestsTotal,
		httpRequestDuration,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latency for the local
// UI surface.
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

func IncSyncEvent(source, result string) {
	syncEventsTotal.WithLabelValues(source, result).Inc()
}

func IncMalformed(source string) {
	malformedEventsTotal.WithLabelValues(source).Inc()
}

func SetPushConnected(connected bool) {
	if connected {
		pushConnectionState.Set(1)
		return
	}
	pushConnectionState.Set(0)
}

func IncPushReconnect() {
	pushReconnectsTotal.Inc()
}

func IncPollCycle(kind, outcome string) {
	pollCyclesTotal.WithLabelValues(kind, outcome).Inc()
}

func IncUnreadDivergence() {
	unreadDivergenceTotal.Inc()
}

func IncFailedSend() {
	failedSendsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
