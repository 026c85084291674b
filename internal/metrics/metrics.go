// Package metrics registers the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts sessions opened by teachers.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_created_total",
		Help: "Number of attendance sessions created.",
	})

	// SessionsClosed counts OPEN -> CLOSED transitions by trigger.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sessions_closed_total",
		Help: "Number of attendance sessions closed.",
	}, []string{"trigger"})

	// RecordsMarked counts attendance writes by input channel.
	RecordsMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_records_marked_total",
		Help: "Number of attendance records written.",
	}, []string{"channel"})

	// AutoCloseErrors counts sessions that failed to close during a tick.
	AutoCloseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_autoclose_errors_total",
		Help: "Number of per-session failures during scheduler ticks.",
	})

	// TickDuration observes how long a full scheduler tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_autoclose_tick_seconds",
		Help:    "Duration of auto-close scheduler ticks.",
		Buckets: prometheus.DefBuckets,
	})

	// SessionsPurged counts closed sessions removed by the retention task.
	SessionsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_purged_total",
		Help: "Number of closed sessions deleted by retention.",
	})
)
