package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a new HTTP router with all API endpoints.
// Metrics collected in gatherer are served on /metrics; a nil gatherer
// falls back to the default Prometheus registry.
//
// Example:
//
//	handlers := NewHandlers(deps)
//	router := NewRouter(handlers, registry)
//	http.ListenAndServe("localhost:8766", router)
func NewRouter(handlers *Handlers, gatherer prometheus.Gatherer) *http.ServeMux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	// Register GET /api/status - Returns cluster status and the last operation
	mux.HandleFunc("/api/status", handlers.StatusHandler)

	// Register GET /api/provider - Returns the provider registration and notifications
	mux.HandleFunc("/api/provider", handlers.ProviderHandler)

	// Register GET /api/prerequisites - Returns prerequisite check results
	mux.HandleFunc("/api/prerequisites", handlers.PrerequisitesHandler)

	// Register POST /api/cluster/start - Starts the cluster asynchronously
	mux.HandleFunc("/api/cluster/start", handlers.ClusterStartHandler)

	// Register POST /api/cluster/stop - Stops the cluster asynchronously
	mux.HandleFunc("/api/cluster/stop", handlers.ClusterStopHandler)

	// Register POST /api/cluster/initialize - Sets up the host if needed and starts the cluster
	mux.HandleFunc("/api/cluster/initialize", handlers.ClusterInitializeHandler)

	// Register POST /api/cluster/delete - Deletes the cluster asynchronously
	mux.HandleFunc("/api/cluster/delete", handlers.ClusterDeleteHandler)

	// Register POST /api/setup - Runs crc setup asynchronously
	mux.HandleFunc("/api/setup", handlers.SetupHandler)

	// Register POST /api/preset/refresh - Rebinds the connection to the configured preset
	mux.HandleFunc("/api/preset/refresh", handlers.PresetRefreshHandler)

	// Register GET /api/kubernetes/health - Probes the cluster's Kubernetes API
	mux.HandleFunc("/api/kubernetes/health", handlers.KubernetesHealthHandler)

	// Register GET /metrics - Prometheus metrics
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}
