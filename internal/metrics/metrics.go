package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classtrack/internal/eventbus"
)

var (
	// AttendanceMarked counts successful attendance writes.
	AttendanceMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_attendance_marked_total",
		Help: "Attendance records accepted by the ingestion gate.",
	})

	// AttendanceConflicts counts duplicate claims, from either the
	// pre-check or the storage unique index.
	AttendanceConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_attendance_conflicts_total",
		Help: "Attendance claims rejected as already marked.",
	})

	// StudentsRegistered counts successful registrations.
	StudentsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_students_registered_total",
		Help: "Students registered.",
	})
)

// ObserveBus exports the registry's counters as prometheus metrics.
func ObserveBus(reg *eventbus.Registry) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "classtrack_stream_subscribers",
		Help: "Active event stream subscriptions.",
	}, func() float64 { return float64(reg.Active()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "classtrack_events_published_total",
		Help: "Domain events published to the bus.",
	}, func() float64 { return float64(reg.Snapshot().Published) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "classtrack_events_dropped_total",
		Help: "Events dropped for slow subscribers.",
	}, func() float64 { return float64(reg.Snapshot().Dropped) })
}
