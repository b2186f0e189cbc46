package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolveRuns counts solver runs by engine and outcome (feasible, infeasible, error, timeout, limit)
	SolveRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cvrp_solve_runs_total", Help: "Solver runs by engine and outcome."},
		[]string{"engine", "outcome"},
	)
	// SolveDuration tracks solver wall time in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "cvrp_solve_duration_seconds", Help: "Solver wall time in seconds.", Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}},
		[]string{"engine"},
	)
	// Candidates counts complete feasible routes recorded by exhaustive searches
	Candidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cvrp_candidates_total", Help: "Feasible candidate routes recorded."},
		[]string{"engine"},
	)
	// ClusterMessages counts point-to-point messages by transport and direction
	ClusterMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cvrp_cluster_messages_total", Help: "Cluster messages by transport and direction."},
		[]string{"transport", "direction"},
	)
	// CallbackDeliveries counts callback POST attempts by result (delivered, retry, failed)
	CallbackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cvrp_callback_deliveries_total", Help: "Run callback delivery attempts by result."},
		[]string{"result"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SolveRuns)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(Candidates)
		Registry.MustRegister(ClusterMessages)
		Registry.MustRegister(CallbackDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
