package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	ErrorsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_errors_total",
			Help: "Total number of occurred errors.",
		},
		[]string{"type"},
	)
	APIRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_api_requests_total",
			Help: "Total number of Bot API calls by method and HTTP status.",
		},
		[]string{"method", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_api_request_duration_seconds",
			Help:    "Duration of Bot API calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)
	UpdatesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Total number of updates handed to the handler.",
		},
	)
	HandlerFailuresCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_handler_failures_total",
			Help: "Total number of updates whose handler failed or panicked.",
		},
	)
	HandlerDuration = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name:       "bot_handler_duration_seconds",
			Help:       "Duration of update handling in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
	)
	ChunksSentCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_message_chunks_sent_total",
			Help: "Total number of message chunks delivered with sendMessage.",
		},
	)
	JobRunsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_scheduled_job_runs_total",
			Help: "Total number of scheduled job runs by job and result.",
		},
		[]string{"job", "result"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_scheduled_job_duration_seconds",
			Help:    "Duration of scheduled job runs in seconds.",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300},
		},
		[]string{"job"},
	)
)

// ObserveRequest records one finished Bot API call. A zero status means the
// call never got an HTTP response.
func ObserveRequest(method string, status int, elapsed time.Duration) {
	label := "none"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	APIRequestsCounter.WithLabelValues(method, label).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func ObserveJob(name string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobRunsCounter.WithLabelValues(name, result).Inc()
	JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func StartMetricsServer(address string) {

	prometheus.MustRegister(ErrorsCounter)
	prometheus.MustRegister(APIRequestsCounter)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(UpdatesCounter)
	prometheus.MustRegister(HandlerFailuresCounter)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(ChunksSentCounter)
	prometheus.MustRegister(JobRunsCounter)
	prometheus.MustRegister(JobDuration)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(address, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server failed: %v", err)
		}
	}()
	log.Infof("metrics server listening on %s", address)
}
