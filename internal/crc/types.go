package crc

import "strings"

// Preset is the cluster flavor run by CRC.
type Preset string

const (
	PresetOpenShift  Preset = "openshift"
	PresetMicroShift Preset = "microshift"
	PresetPodman     Preset = "podman"

	// DefaultPreset is used whenever the configured preset cannot be determined.
	DefaultPreset = PresetOpenShift
)

// Presets lists every supported preset in display order.
var Presets = []Preset{PresetOpenShift, PresetMicroShift, PresetPodman}

// ParsePreset translates a daemon-reported preset, falling back to DefaultPreset.
func ParsePreset(s string) Preset {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case PresetOpenShift:
		return PresetOpenShift
	case PresetMicroShift:
		return PresetMicroShift
	case PresetPodman:
		return PresetPodman
	default:
		return DefaultPreset
	}
}

// DisplayName returns the human-readable preset name.
func (p Preset) DisplayName() string {
	switch p {
	case PresetMicroShift:
		return "MicroShift"
	case PresetPodman:
		return "Podman"
	default:
		return "OpenShift"
	}
}

// IsKubernetes reports whether the preset exposes a Kubernetes API endpoint.
func (p Preset) IsKubernetes() bool {
	return p == PresetOpenShift || p == PresetMicroShift
}

// ClusterStatus is the daemon-reported CRC status translated into a closed set.
type ClusterStatus string

const (
	StatusRunning   ClusterStatus = "Running"
	StatusStarting  ClusterStatus = "Starting"
	StatusStopping  ClusterStatus = "Stopping"
	StatusStopped   ClusterStatus = "Stopped"
	StatusNoCluster ClusterStatus = "No Cluster"
	StatusNeedSetup ClusterStatus = "Need Setup"
	StatusError     ClusterStatus = "Error"
	StatusUnknown   ClusterStatus = "Unknown"
)

// ParseClusterStatus translates the raw CrcStatus string. Anything not in the
// known set becomes StatusUnknown; callers keep the raw string for display.
func ParseClusterStatus(raw string) ClusterStatus {
	switch s := ClusterStatus(strings.TrimSpace(raw)); s {
	case StatusRunning, StatusStarting, StatusStopping, StatusStopped,
		StatusNoCluster, StatusNeedSetup, StatusError:
		return s
	default:
		return StatusUnknown
	}
}

// VersionInfo is the response of GET /api/version.
type VersionInfo struct {
	CrcVersion       string `json:"CrcVersion"`
	CommitSha        string `json:"CommitSha"`
	OpenshiftVersion string `json:"OpenshiftVersion"`
	PodmanVersion    string `json:"PodmanVersion"`
	Installed        bool   `json:"Installed"`
}

// StatusInfo is the response of GET /api/status.
type StatusInfo struct {
	CrcStatus        string `json:"CrcStatus"`
	OpenshiftStatus  string `json:"OpenshiftStatus"`
	OpenshiftVersion string `json:"OpenshiftVersion"`
	PodmanVersion    string `json:"PodmanVersion"`
	DiskUse          int64  `json:"DiskUse"`
	DiskSize         int64  `json:"DiskSize"`
	RAMUse           int64  `json:"RAMUse"`
	RAMSize          int64  `json:"RAMSize"`
	Preset           string `json:"Preset"`
}

// ClusterStatus returns the translated CrcStatus.
func (s *StatusInfo) ClusterStatus() ClusterStatus {
	return ParseClusterStatus(s.CrcStatus)
}

// ClusterConfig describes how to reach a started cluster.
type ClusterConfig struct {
	ClusterType   string `json:"ClusterType"`
	ClusterCACert string `json:"ClusterCACert"`
	KubeConfig    string `json:"KubeConfig"`
	KubeAdminPass string `json:"KubeAdminPass"`
	ClusterAPI    string `json:"ClusterAPI"`
	WebConsoleURL string `json:"WebConsoleURL"`
}

// StartResult is the response of GET /api/start.
type StartResult struct {
	Name           string        `json:"Name"`
	Status         string        `json:"Status"`
	Error          string        `json:"Error"`
	ClusterConfig  ClusterConfig `json:"ClusterConfig"`
	KubeletStarted bool          `json:"KubeletStarted"`
}

// ClusterStatus returns the translated start status.
func (r *StartResult) ClusterStatus() ClusterStatus {
	return ParseClusterStatus(r.Status)
}

// Configuration is the response of GET /api/config.
type Configuration struct {
	Configs map[string]any `json:"Configs"`
}

// Preset returns the configured preset, or DefaultPreset when it is absent.
func (c *Configuration) Preset() Preset {
	if c == nil || c.Configs == nil {
		return DefaultPreset
	}
	if v, ok := c.Configs["preset"].(string); ok {
		return ParsePreset(v)
	}
	return DefaultPreset
}

type logsResponse struct {
	Messages []string `json:"Messages"`
}
