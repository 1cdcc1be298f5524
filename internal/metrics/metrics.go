// Package metrics declares the Prometheus collectors served on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttendanceWrites counts attendance write attempts by kind, source (api, capture) and result.
	AttendanceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_records_total",
		Help: "Attendance write attempts.",
	}, []string{"kind", "source", "result"})

	// SessionOutcomes counts capture sessions by the state or status they ended in.
	SessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_sessions_total",
		Help: "Capture sessions by outcome.",
	}, []string{"outcome"})

	// Frames counts frames pulled by capture loops.
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_frames_total",
		Help: "Frames processed by capture sessions.",
	}, []string{"stage", "result"})

	// QueueMessages counts messages handled by the worker.
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_total",
		Help: "Queue messages handled by the worker.",
	}, []string{"type", "result"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware records request latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
