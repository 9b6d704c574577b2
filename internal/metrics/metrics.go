package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carecoop"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduling_conflicts_total",
			Help:      "Conflicts detected on save attempts, by type.",
		},
		[]string{"type"},
	)

	bookingsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_saved_total",
			Help:      "Bookings written, by operation.",
		},
		[]string{"operation"},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_sync_tasks_total",
			Help:      "Roster sync tasks by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, conflicts, bookingsSaved, syncTasks)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncHTTP counts a served request.
func IncHTTP(endpoint string, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

// IncConflict counts a detected conflict of the given type.
func IncConflict(conflictType string) {
	conflicts.WithLabelValues(conflictType).Inc()
}

// IncSaved counts n bookings written by operation (create, update, status, delete, recurrence).
func IncSaved(operation string, n int) {
	bookingsSaved.WithLabelValues(operation).Add(float64(n))
}

// IncSync counts a processed roster sync task by outcome: completed, retry,
// failed or superseded.
func IncSync(outcome string) {
	syncTasks.WithLabelValues(outcome).Inc()
}
