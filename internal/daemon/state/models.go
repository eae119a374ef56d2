// Package state tracks the CRC cluster status reported by the daemon.
//
// The Tracker polls the daemon, keeps the latest Snapshot, and notifies
// subscribers when it changes. The Snapshot is what the provider's HTTP API
// serves on /api/status and what the host-facing provider and connection
// statuses are derived from.
package state

import (
	"time"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/host"
)

// Snapshot is the last known cluster state.
type Snapshot struct {
	SessionID string `json:"session_id"`

	Status crc.ClusterStatus `json:"status"`
	// Raw is the CrcStatus string exactly as the daemon reported it
	Raw    string     `json:"raw_status"`
	Preset crc.Preset `json:"preset"`

	OpenshiftStatus  string `json:"openshift_status,omitempty"`
	OpenshiftVersion string `json:"openshift_version,omitempty"`
	PodmanVersion    string `json:"podman_version,omitempty"`
	DiskUse          int64  `json:"disk_use,omitempty"`
	DiskSize         int64  `json:"disk_size,omitempty"`
	RAMUse           int64  `json:"ram_use,omitempty"`
	RAMSize          int64  `json:"ram_size,omitempty"`

	DaemonReachable bool `json:"daemon_reachable"`
	SetupRunning    bool `json:"setup_running"`
	// InTransition is set while a lifecycle operation pins Status
	InTransition bool `json:"in_transition"`

	UpdatedAt time.Time `json:"updated_at"`
}

// differs reports whether b is a visible change from a.
func (a Snapshot) differs(b Snapshot) bool {
	return a.Status != b.Status ||
		a.Raw != b.Raw ||
		a.Preset != b.Preset ||
		a.DaemonReachable != b.DaemonReachable ||
		a.SetupRunning != b.SetupRunning ||
		a.InTransition != b.InTransition
}

var providerStatuses = map[crc.ClusterStatus]host.ProviderStatus{
	crc.StatusRunning:   host.ProviderStarted,
	crc.StatusStarting:  host.ProviderStarting,
	crc.StatusStopping:  host.ProviderStopping,
	crc.StatusStopped:   host.ProviderStopped,
	crc.StatusNoCluster: host.ProviderConfigured,
	crc.StatusNeedSetup: host.ProviderInstalled,
	crc.StatusError:     host.ProviderError,
	crc.StatusUnknown:   host.ProviderUnknown,
}

var connectionStatuses = map[crc.ClusterStatus]host.ConnectionStatus{
	crc.StatusRunning:   host.ConnectionStarted,
	crc.StatusStarting:  host.ConnectionStarting,
	crc.StatusStopping:  host.ConnectionStopping,
	crc.StatusStopped:   host.ConnectionStopped,
	crc.StatusNoCluster: host.ConnectionStopped,
	crc.StatusNeedSetup: host.ConnectionUnknown,
	crc.StatusError:     host.ConnectionUnknown,
	crc.StatusUnknown:   host.ConnectionUnknown,
}

// ProviderStatusFor maps a cluster status to the provider vocabulary.
// While setup runs the provider is "configuring" whatever the daemon says.
func ProviderStatusFor(status crc.ClusterStatus, setupRunning bool) host.ProviderStatus {
	if setupRunning {
		return host.ProviderConfiguring
	}
	if s, ok := providerStatuses[status]; ok {
		return s
	}
	return host.ProviderUnknown
}

// ConnectionStatusFor maps a cluster status to the connection vocabulary.
// While setup runs the connection is "starting".
func ConnectionStatusFor(status crc.ClusterStatus, setupRunning bool) host.ConnectionStatus {
	if setupRunning {
		return host.ConnectionStarting
	}
	if s, ok := connectionStatuses[status]; ok {
		return s
	}
	return host.ConnectionUnknown
}
