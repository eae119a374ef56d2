// Package preset binds the host connections to the preset CRC is configured with.
//
// OpenShift and MicroShift expose a Kubernetes API endpoint; the Podman preset
// exposes a container-engine socket. At most one connection is live at a
// time: every rebind disposes the previous connection before registering the
// next one.
package preset

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
)

const (
	configTimeout = 10 * time.Second

	podmanConnectionName = "crc-podman"
	podmanConnectionType = "podman"

	podmanNotice = "The Podman preset is deprecated in CRC and only exposes the podman socket. " +
		"Use the OpenShift or MicroShift preset for a Kubernetes cluster."
)

// ConfigReader reads the daemon configuration.
type ConfigReader interface {
	ConfigGet(ctx context.Context) (*crc.Configuration, error)
}

// StatusSource reports the connection status.
type StatusSource interface {
	ConnectionStatus() host.ConnectionStatus
}

// Config holds the collaborators and endpoints of a Binder.
type Config struct {
	Client   ConfigReader
	Provider host.Provider
	Notifier host.Notifier
	Status   StatusSource

	KubeAPIEndpoint  string
	KubeconfigPath   string
	PodmanSocketPath string

	// Stat checks the podman socket; defaults to os.Stat
	Stat func(name string) (os.FileInfo, error)
}

// Binder keeps a single host connection matching the configured preset.
type Binder struct {
	cfg Config

	mu         sync.Mutex
	preset     crc.Preset
	bound      bool
	binding    host.Disposable
	lifecycle  host.Lifecycle
	crcVersion string

	log logrus.FieldLogger
}

// NewBinder creates a Binder. Nothing is registered until PresetChanged.
func NewBinder(cfg Config) *Binder {
	if cfg.Stat == nil {
		cfg.Stat = os.Stat
	}
	return &Binder{
		cfg:    cfg,
		preset: crc.DefaultPreset,
		log:    logrus.WithField("component", "preset"),
	}
}

// SetLifecycle sets the lifecycle commands attached to registered connections.
func (b *Binder) SetLifecycle(lifecycle host.Lifecycle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lifecycle = lifecycle
}

// SetCrcVersion sets the CRC version shown in the provider version label.
func (b *Binder) SetCrcVersion(version string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.crcVersion = version
}

// Preset returns the preset of the current binding.
func (b *Binder) Preset() crc.Preset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.preset
}

// Bound reports whether a binding is in place.
func (b *Binder) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

// PresetChanged reads the configured preset from the daemon and rebinds.
// When the configuration cannot be read the default preset is used.
func (b *Binder) PresetChanged(ctx context.Context) {
	b.bind(b.configuredPreset(ctx))
}

// HandleStatusChange rebinds when a reachable daemon reports a preset other
// than the bound one. It is a no-op while nothing is bound.
func (b *Binder) HandleStatusChange(s state.Snapshot) {
	if !s.DaemonReachable {
		return
	}

	b.mu.Lock()
	stale := b.bound && b.preset != s.Preset
	b.mu.Unlock()

	if stale {
		b.log.Infof("Daemon reports preset %s, rebinding", s.Preset)
		b.bind(s.Preset)
	}
}

// Dispose removes the current binding.
func (b *Binder) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.disposeLocked()
	b.bound = false
}

func (b *Binder) disposeLocked() {
	if b.binding != nil {
		b.binding.Dispose()
		b.binding = nil
	}
}

func (b *Binder) configuredPreset(ctx context.Context) crc.Preset {
	ctx, cancel := context.WithTimeout(ctx, configTimeout)
	defer cancel()

	cfg, err := b.cfg.Client.ConfigGet(ctx)
	if err != nil {
		b.log.Warnf("WARNING: Failed to read CRC preset, using %s: %v", crc.DefaultPreset, err)
		return crc.DefaultPreset
	}
	return cfg.Preset()
}

func (b *Binder) bind(preset crc.Preset) {
	b.mu.Lock()
	defer b.mu.Unlock()

	enteringPodman := preset == crc.PresetPodman && (!b.bound || b.preset != crc.PresetPodman)

	b.cfg.Provider.UpdateVersion(b.versionLabel(preset))

	// The old connection must be gone before the new one is registered.
	b.disposeLocked()

	switch preset {
	case crc.PresetPodman:
		if enteringPodman && b.cfg.Notifier != nil {
			b.cfg.Notifier.ShowInfo(podmanNotice)
		}
		b.binding = b.registerPodman()
	default:
		b.binding = b.registerKubernetes(preset)
	}

	b.preset = preset
	b.bound = true
}

func (b *Binder) versionLabel(preset crc.Preset) string {
	if b.crcVersion == "" {
		return preset.DisplayName()
	}
	return fmt.Sprintf("%s (%s)", b.crcVersion, preset.DisplayName())
}

func (b *Binder) connectionStatus() host.ConnectionStatus {
	if b.cfg.Status == nil {
		return host.ConnectionUnknown
	}
	return b.cfg.Status.ConnectionStatus()
}

func (b *Binder) registerKubernetes(preset crc.Preset) host.Disposable {
	name := "crc"
	if preset == crc.PresetMicroShift {
		name = "microshift"
	}

	return b.cfg.Provider.RegisterKubernetesConnection(host.KubernetesConnection{
		Name:           name,
		Endpoint:       b.cfg.KubeAPIEndpoint,
		KubeconfigPath: b.cfg.KubeconfigPath,
		Lifecycle:      b.lifecycle,
		Status:         b.connectionStatus,
	})
}

// registerPodman registers the podman socket if it exists. A missing socket
// is logged and leaves nothing registered.
func (b *Binder) registerPodman() host.Disposable {
	socket := b.cfg.PodmanSocketPath
	if _, err := b.cfg.Stat(socket); err != nil {
		b.log.Warnf("WARNING: Podman socket %s is not available, no container connection registered: %v", socket, err)
		return nil
	}

	return b.cfg.Provider.RegisterContainerConnection(host.ContainerConnection{
		Name:       podmanConnectionName,
		Type:       podmanConnectionType,
		SocketPath: socket,
		Lifecycle:  b.lifecycle,
		Status:     b.connectionStatus,
	})
}
