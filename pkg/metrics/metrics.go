package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mbstf_sessions_total",
			Help: "Total number of active distribution sessions by operating mode and acquisition method",
		},
		[]string{"operating_mode", "acquisition_method"},
	)

	SessionCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mbstf_session_create_duration_seconds",
			Help:    "Time taken to construct a distribution session and its controller",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionCreateFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbstf_session_create_failures_total",
			Help: "Total number of rejected POST /dist-sessions requests by error kind",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbstf_api_requests_total",
			Help: "Total number of distsession API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mbstf_api_request_duration_seconds",
			Help:    "Distsession API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ObjectStore metrics
	ObjectsStoredTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mbstf_objects_stored_total",
			Help: "Total number of objects currently held across all object stores",
		},
	)

	ObjectsAddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mbstf_objects_added_total",
			Help: "Total number of ObjectAdded events emitted",
		},
	)

	ObjectsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mbstf_objects_expired_total",
			Help: "Total number of ObjectExpired events emitted by the expiry sweep",
		},
	)

	// Ingester metrics
	PullFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbstf_pull_fetches_total",
			Help: "Total number of pull ingester fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	PullFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mbstf_pull_fetch_duration_seconds",
			Help:    "Time taken for a pull ingester HTTP round-trip",
			Buckets: prometheus.DefBuckets,
		},
	)

	PushUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbstf_push_uploads_total",
			Help: "Total number of push ingest requests by outcome",
		},
		[]string{"outcome"},
	)

	PushBodyRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mbstf_push_body_rejected_total",
			Help: "Total number of push uploads rejected for exceeding the body size cap",
		},
	)

	// Packager metrics
	PackagerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mbstf_packager_queue_depth",
			Help: "Number of package items currently queued, by session id",
		},
		[]string{"session_id"},
	)

	ObjectsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mbstf_objects_sent_total",
			Help: "Total number of objects whose transmission completed",
		},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mbstf_send_duration_seconds",
			Help:    "Time between an object being submitted to the transmitter and its completion callback",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionCreateDuration)
	prometheus.MustRegister(SessionCreateFailuresTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ObjectsStoredTotal)
	prometheus.MustRegister(ObjectsAddedTotal)
	prometheus.MustRegister(ObjectsExpiredTotal)
	prometheus.MustRegister(PullFetchesTotal)
	prometheus.MustRegister(PullFetchDuration)
	prometheus.MustRegister(PushUploadsTotal)
	prometheus.MustRegister(PushBodyRejectedTotal)
	prometheus.MustRegister(PackagerQueueDepth)
	prometheus.MustRegister(ObjectsSentTotal)
	prometheus.MustRegister(SendDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
