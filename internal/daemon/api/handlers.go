// Package api provides HTTP handlers for the CRC provider's REST API.
//
// The API exposes the provider to local tooling: cluster status, the
// provider's registered connections, and the lifecycle commands. Long-running
// operations (start, stop, initialize, delete, setup) return 202 Accepted
// immediately and execute in background goroutines. Clients poll
// GET /api/status to follow their progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bombsimon/logrusr/v2"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"

	"github.com/meyrevived/crc-provider/internal/api"
	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
	"github.com/meyrevived/crc-provider/internal/kube"
	"github.com/meyrevived/crc-provider/internal/prereq"
	"github.com/meyrevived/crc-provider/internal/prompt"
	"github.com/meyrevived/crc-provider/internal/pullsecret"
)

// Timeouts of the background operations.
const (
	startTimeout      = 20 * time.Minute
	stopTimeout       = 5 * time.Minute
	deleteTimeout     = 5 * time.Minute
	initializeTimeout = 45 * time.Minute
	setupTimeout      = 30 * time.Minute
)

// StatusSource is the cluster status tracker.
type StatusSource interface {
	Status() state.Snapshot
	ProviderStatus() host.ProviderStatus
	ConnectionStatus() host.ConnectionStatus
}

// ProviderView exposes the host-side provider registration.
type ProviderView interface {
	Snapshot() host.ProviderSnapshot
}

// NotificationSource returns the messages shown to the user.
type NotificationSource interface {
	Recent() []host.Notification
}

// ClusterManager runs the lifecycle operations.
type ClusterManager interface {
	InProgress() bool
	StartWith(ctx context.Context, logger logr.Logger, prompter prompt.Prompter) error
	Stop(ctx context.Context) error
	InitializeCluster(ctx context.Context, logger logr.Logger) error
	Delete(ctx context.Context) error
}

// SetupRunner runs "crc setup".
type SetupRunner interface {
	SetUpCrc(ctx context.Context, logger logr.Logger, interactive bool) (bool, error)
}

// PresetBinder binds connections to the configured preset.
type PresetBinder interface {
	PresetChanged(ctx context.Context)
	Preset() crc.Preset
	Bound() bool
}

// PrereqChecker runs the installation preflight.
type PrereqChecker interface {
	CheckAll(ctx context.Context) (*prereq.CheckResult, error)
}

// HealthProber probes the Kubernetes API of a running cluster.
type HealthProber interface {
	Health(ctx context.Context) (*kube.Health, error)
}

// Dependencies holds the collaborators of the handlers.
type Dependencies struct {
	Status        StatusSource
	Provider      ProviderView
	Notifications NotificationSource
	Cluster       ClusterManager
	Setup         SetupRunner
	Binder        PresetBinder
	Prereqs       PrereqChecker
	Prober        HealthProber
}

// Handlers holds dependencies and state for all HTTP API handlers.
//
// The opMutex ensures that only one lifecycle operation started over the API
// runs at a time. Operations started elsewhere (the CLI, the host) are seen
// through ClusterManager.InProgress.
type Handlers struct {
	deps    Dependencies
	opMutex sync.Mutex

	mu        sync.Mutex
	operation api.OperationStatus

	log logrus.FieldLogger
}

// NewHandlers creates a new Handlers instance with the provided dependencies.
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		deps: deps,
		log:  logrus.WithField("component", "api"),
	}
}

// Operation returns the most recent operation started over the API.
func (h *Handlers) Operation() api.OperationStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.operation
}

func (h *Handlers) setOperation(op api.OperationStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operation = op
}

// finishOperation records the result and releases the operation lock in one
// step, so a client that sees the operation finished can start the next one.
func (h *Handlers) finishOperation(op api.OperationStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operation = op
	h.opMutex.Unlock()
}

// StatusHandler handles GET /api/status requests.
// It returns the tracked cluster status and the operation started last.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := api.StatusResponse{
		Cluster:          h.deps.Status.Status(),
		ProviderStatus:   h.deps.Status.ProviderStatus(),
		ConnectionStatus: h.deps.Status.ConnectionStatus(),
		Operation:        h.Operation(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ProviderHandler handles GET /api/provider requests.
// It returns the provider registration and the recent notifications.
func (h *Handlers) ProviderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := api.ProviderResponse{
		Provider:      h.deps.Provider.Snapshot(),
		Preset:        string(h.deps.Binder.Preset()),
		Notifications: h.deps.Notifications.Recent(),
	}
	if response.Notifications == nil {
		response.Notifications = []host.Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// PrerequisitesHandler handles GET /api/prerequisites requests.
// It checks the crc and podman binaries and returns their status and versions.
func (h *Handlers) PrerequisitesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := h.deps.Prereqs.CheckAll(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to check prerequisites: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ClusterStartHandler handles POST /api/cluster/start requests.
// The body may carry the pull secret to store if the daemon asks for one.
func (h *Handlers) ClusterStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.StartRequest
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PullSecret != "" {
		if err := pullsecret.Validate(req.PullSecret); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	prompter := prompt.NewStaticPrompter(req.PullSecret)
	h.runAsync(w, "start", startTimeout, func(ctx context.Context, logger logr.Logger) error {
		return h.deps.Cluster.StartWith(ctx, logger, prompter)
	})
}

// ClusterStopHandler handles POST /api/cluster/stop requests.
func (h *Handlers) ClusterStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.runAsync(w, "stop", stopTimeout, func(ctx context.Context, _ logr.Logger) error {
		return h.deps.Cluster.Stop(ctx)
	})
}

// ClusterInitializeHandler handles POST /api/cluster/initialize requests.
// It runs setup when the host needs it and then starts the cluster.
func (h *Handlers) ClusterInitializeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.runAsync(w, "initialize", initializeTimeout, func(ctx context.Context, logger logr.Logger) error {
		return h.deps.Cluster.InitializeCluster(ctx, logger)
	})
}

// ClusterDeleteHandler handles POST /api/cluster/delete requests.
// Deleting the cluster destroys its disk, so the body must confirm it.
func (h *Handlers) ClusterDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.DeleteRequest
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "bad_request", "deleting the cluster requires {\"confirm\": true}")
		return
	}

	h.runAsync(w, "delete", deleteTimeout, func(ctx context.Context, _ logr.Logger) error {
		return h.deps.Cluster.Delete(ctx)
	})
}

// SetupHandler handles POST /api/setup requests.
// Setup runs non-interactively with the configured preset, and the
// connection is rebound once it succeeds.
func (h *Handlers) SetupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.runAsync(w, "setup", setupTimeout, func(ctx context.Context, logger logr.Logger) error {
		if _, err := h.deps.Setup.SetUpCrc(ctx, logger, false); err != nil {
			return err
		}
		h.deps.Binder.PresetChanged(ctx)
		return nil
	})
}

// PresetRefreshHandler handles POST /api/preset/refresh requests.
// It re-reads the configured preset and rebinds the connection.
func (h *Handlers) PresetRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.deps.Binder.PresetChanged(r.Context())

	response := api.PresetResponse{
		Preset: string(h.deps.Binder.Preset()),
		Bound:  h.deps.Binder.Bound(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// KubernetesHealthHandler handles GET /api/kubernetes/health requests.
// It is only available while a Kubernetes preset is bound and the cluster is running.
func (h *Handlers) KubernetesHealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preset := h.deps.Binder.Preset()
	if !h.deps.Binder.Bound() || !preset.IsKubernetes() {
		writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("no Kubernetes connection for preset %q", preset))
		return
	}
	if h.deps.Status.Status().Status != crc.StatusRunning {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "the cluster is not running")
		return
	}
	if h.deps.Prober == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no Kubernetes prober configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	health, err := h.deps.Prober.Health(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, "error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// runAsync starts fn in a background goroutine and answers 202 Accepted, or
// 409 Conflict when another lifecycle operation is running.
func (h *Handlers) runAsync(w http.ResponseWriter, name string, timeout time.Duration, fn func(ctx context.Context, logger logr.Logger) error) {
	if !h.opMutex.TryLock() {
		writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("an operation is already in progress: %s", h.Operation().Name))
		return
	}
	if h.deps.Cluster.InProgress() {
		h.opMutex.Unlock()
		writeError(w, http.StatusConflict, "conflict", "a cluster operation is already in progress")
		return
	}

	h.setOperation(api.OperationStatus{Name: name, Running: true, StartedAt: time.Now()})

	//nolint:contextcheck // Using Background context intentionally - request context would cancel when response is sent
	go func() {
		log := h.log.WithField("operation", name)
		log.Infof("Starting background %s...", name)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		op := h.Operation()
		op.Running = false
		if err := fn(ctx, logrusr.New(log)); err != nil {
			log.Errorf("ERROR: Background %s failed: %v", name, err)
			op.Error = err.Error()
		} else {
			log.Infof("Background %s completed successfully.", name)
		}
		op.EndedAt = time.Now()
		h.finishOperation(op)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	response := api.ClusterOperationResponse{
		Status:  "accepted",
		Message: fmt.Sprintf("Cluster %s initiated. Use GET /api/status to check progress.", name),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	response := api.ErrorResponse{
		Status: status,
		Error:  message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithField("component", "api").Errorf("Failed to encode response: %v", err)
	}
}
