package host

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConnectionInfo is the serializable view of a registered connection.
type ConnectionInfo struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Kind       string           `json:"kind"` // "kubernetes" | container engine type
	Endpoint   string           `json:"endpoint"`
	Status     ConnectionStatus `json:"status"`
	Registered time.Time        `json:"registered"`
}

// ProviderSnapshot is the serializable view of the provider.
type ProviderSnapshot struct {
	Name                string           `json:"name"`
	Status              ProviderStatus   `json:"status"`
	Version             string           `json:"version"`
	LifecycleRegistered bool             `json:"lifecycle_registered"`
	Connections         []ConnectionInfo `json:"connections"`
}

type registration struct {
	seq    uint64
	info   ConnectionInfo
	status func() ConnectionStatus
}

// Registry is an in-memory Provider. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	name        string
	status      ProviderStatus
	version     string
	lifecycle   Lifecycle
	connections map[string]registration
	seq         uint64

	log logrus.FieldLogger
}

// NewRegistry creates a provider registry in the not-installed state.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:        name,
		status:      ProviderNotInstalled,
		connections: make(map[string]registration),
		log:         logrus.WithField("component", "host"),
	}
}

// UpdateStatus sets the provider status.
func (r *Registry) UpdateStatus(status ProviderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != status {
		r.log.Debugf("Provider status %s -> %s", r.status, status)
	}
	r.status = status
}

// Status returns the provider status.
func (r *Registry) Status() ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// UpdateVersion sets the provider version label.
func (r *Registry) UpdateVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Version returns the provider version label.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// RegisterKubernetesConnection registers a Kubernetes endpoint.
func (r *Registry) RegisterKubernetesConnection(conn KubernetesConnection) Disposable {
	return r.add(ConnectionInfo{
		Name:     conn.Name,
		Kind:     "kubernetes",
		Endpoint: conn.Endpoint,
	}, conn.Status)
}

// RegisterContainerConnection registers a container-engine socket.
func (r *Registry) RegisterContainerConnection(conn ContainerConnection) Disposable {
	return r.add(ConnectionInfo{
		Name:     conn.Name,
		Kind:     conn.Type,
		Endpoint: conn.SocketPath,
	}, conn.Status)
}

func (r *Registry) add(info ConnectionInfo, status func() ConnectionStatus) Disposable {
	info.ID = uuid.New().String()
	info.Registered = time.Now()

	r.mu.Lock()
	r.seq++
	r.connections[info.ID] = registration{seq: r.seq, info: info, status: status}
	r.mu.Unlock()

	r.log.Infof("Registered %s connection %q at %s", info.Kind, info.Name, info.Endpoint)

	return NewDisposable(func() {
		r.mu.Lock()
		delete(r.connections, info.ID)
		r.mu.Unlock()
		r.log.Infof("Disposed %s connection %q", info.Kind, info.Name)
	})
}

// RegisterLifecycle binds the lifecycle commands. A later registration replaces an earlier one.
func (r *Registry) RegisterLifecycle(lifecycle Lifecycle) Disposable {
	r.mu.Lock()
	r.lifecycle = lifecycle
	r.mu.Unlock()

	return NewDisposable(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.lifecycle == lifecycle {
			r.lifecycle = nil
		}
	})
}

// Lifecycle returns the registered lifecycle commands, or nil when none are registered.
func (r *Registry) Lifecycle() Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lifecycle
}

// Connections returns the live connections in registration order.
func (r *Registry) Connections() []ConnectionInfo {
	r.mu.RLock()
	regs := make([]registration, 0, len(r.connections))
	for _, reg := range r.connections {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool {
		return regs[i].seq < regs[j].seq
	})

	infos := make([]ConnectionInfo, 0, len(regs))
	for _, reg := range regs {
		info := reg.info
		info.Status = ConnectionUnknown
		if reg.status != nil {
			info.Status = reg.status()
		}
		infos = append(infos, info)
	}
	return infos
}

// Snapshot returns the serializable provider view.
func (r *Registry) Snapshot() ProviderSnapshot {
	connections := r.Connections()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return ProviderSnapshot{
		Name:                r.name,
		Status:              r.status,
		Version:             r.version,
		LifecycleRegistered: r.lifecycle != nil,
		Connections:         connections,
	}
}
