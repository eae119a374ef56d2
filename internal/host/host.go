// Package host defines the surface the CRC provider exposes to its host: a
// provider with a status and version label, the connections it registers
// (a Kubernetes API endpoint or a container-engine socket), the lifecycle
// commands bound to it, and user notifications.
//
// Registry is the in-process implementation served over the provider's HTTP API.
package host

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// ProviderStatus is the provider-level status vocabulary.
type ProviderStatus string

const (
	ProviderNotInstalled ProviderStatus = "not-installed"
	ProviderInstalled    ProviderStatus = "installed"
	ProviderConfiguring  ProviderStatus = "configuring"
	ProviderConfigured   ProviderStatus = "configured"
	ProviderReady        ProviderStatus = "ready"
	ProviderStarting     ProviderStatus = "starting"
	ProviderStarted      ProviderStatus = "started"
	ProviderStopping     ProviderStatus = "stopping"
	ProviderStopped      ProviderStatus = "stopped"
	ProviderError        ProviderStatus = "error"
	ProviderUnknown      ProviderStatus = "unknown"
)

// ConnectionStatus is the connection-level status vocabulary.
type ConnectionStatus string

const (
	ConnectionStarted  ConnectionStatus = "started"
	ConnectionStarting ConnectionStatus = "starting"
	ConnectionStopping ConnectionStatus = "stopping"
	ConnectionStopped  ConnectionStatus = "stopped"
	ConnectionUnknown  ConnectionStatus = "unknown"
)

// Disposable releases a registration.
type Disposable interface {
	Dispose()
}

type disposeOnce struct {
	once sync.Once
	fn   func()
}

func (d *disposeOnce) Dispose() {
	d.once.Do(d.fn)
}

// NewDisposable returns a Disposable running fn on the first Dispose call only.
func NewDisposable(fn func()) Disposable {
	return &disposeOnce{fn: fn}
}

// Lifecycle is the set of commands the host can run against the cluster.
type Lifecycle interface {
	Start(ctx context.Context, logger logr.Logger) error
	Stop(ctx context.Context) error
	Delete(ctx context.Context) error
}

// KubernetesConnection exposes a Kubernetes API endpoint.
type KubernetesConnection struct {
	Name           string
	Endpoint       string
	KubeconfigPath string
	Lifecycle      Lifecycle
	Status         func() ConnectionStatus
}

// ContainerConnection exposes a container-engine socket.
type ContainerConnection struct {
	Name       string
	Type       string
	SocketPath string
	Lifecycle  Lifecycle
	Status     func() ConnectionStatus
}

// Provider is the host-side provider registration.
type Provider interface {
	UpdateStatus(status ProviderStatus)
	UpdateVersion(version string)
	RegisterKubernetesConnection(conn KubernetesConnection) Disposable
	RegisterContainerConnection(conn ContainerConnection) Disposable
	RegisterLifecycle(lifecycle Lifecycle) Disposable
}

// Notifier shows messages to the user.
type Notifier interface {
	ShowError(message string)
	ShowInfo(message string)
}
