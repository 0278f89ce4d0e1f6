package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Visits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_visits_total",
		Help: "Total scheduler visits",
	})
	VisitOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_visit_outcomes_total",
		Help: "Visit outcomes by kind",
	}, []string{"outcome"})
	VisitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_visit_duration_seconds",
		Help:    "Visit duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	SessionRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_session_refreshes_total",
		Help: "Total session token refreshes",
	})
	SessionLogins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_session_logins_total",
		Help: "Total full platform logins",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_api_retries_total",
		Help: "Total platform API retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_command_runs_total",
		Help: "Total CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_command_errors_total",
		Help: "Total CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(Visits, VisitOutcomes, VisitDuration,
		SessionRefreshes, SessionLogins, APIRetries, CommandRuns, CommandErrors)
}

// StartServer starts a metrics HTTP server on addr (e.g. ":9090").
// Empty addr (and empty METRICS_ADDR) disables the endpoint entirely.
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	go func() { _ = http.ListenAndServe(addr, r) }()
}

// ObserveVisitDuration records one visit's wall time.
func ObserveVisitDuration(start time.Time) {
	VisitDuration.Observe(time.Since(start).Seconds())
}

// IncOutcome increments the counter for a visit outcome kind.
func IncOutcome(outcome string) { VisitOutcomes.WithLabelValues(outcome).Inc() }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

// IncCommandRun counts a CLI command invocation.
func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

// IncCommandError counts a CLI command failure.
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
