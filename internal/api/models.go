// Package api defines the request and response models of the provider's HTTP API.
//
// These types are shared by the API handlers and the command line client so
// both sides agree on the contract.
package api

import (
	"time"

	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
)

// OperationStatus describes the most recent lifecycle operation started over the API.
type OperationStatus struct {
	Name      string    `json:"name,omitempty"`
	Running   bool      `json:"running"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// StatusResponse represents the JSON response for GET /api/status.
type StatusResponse struct {
	Cluster          state.Snapshot        `json:"cluster"`
	ProviderStatus   host.ProviderStatus   `json:"provider_status"`
	ConnectionStatus host.ConnectionStatus `json:"connection_status"`
	Operation        OperationStatus       `json:"operation"`
}

// ProviderResponse represents the JSON response for GET /api/provider.
type ProviderResponse struct {
	Provider      host.ProviderSnapshot `json:"provider"`
	Preset        string                `json:"preset"`
	Notifications []host.Notification   `json:"notifications"`
}

// StartRequest is the optional body of POST /api/cluster/start.
// PullSecret is used only if the daemon asks for one.
type StartRequest struct {
	PullSecret string `json:"pull_secret,omitempty"`
}

// DeleteRequest is the body of POST /api/cluster/delete.
type DeleteRequest struct {
	Confirm bool `json:"confirm"`
}

// ClusterOperationResponse represents the JSON response for async cluster operations.
//
// Used by:
//   - POST /api/cluster/start
//   - POST /api/cluster/stop
//   - POST /api/cluster/initialize
//   - POST /api/cluster/delete
//   - POST /api/setup
//
// These endpoints return 202 Accepted immediately with a status of "accepted" and a
// message instructing the client to poll GET /api/status to check progress.
type ClusterOperationResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PresetResponse represents the JSON response for POST /api/preset/refresh.
type PresetResponse struct {
	Preset string `json:"preset"`
	Bound  bool   `json:"bound"`
}

// ErrorResponse is returned with every 4xx and 5xx JSON response.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
