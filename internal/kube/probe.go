// Package kube checks the health of the Kubernetes API exposed by the
// OpenShift and MicroShift presets.
package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

const requestTimeout = 10 * time.Second

// NewClientset creates a clientset from kubeconfig. A non-empty endpoint
// overrides the server address found in the kubeconfig.
func NewClientset(kubeconfig, endpoint string) (kubernetes.Interface, error) {
	config, err := clientcmd.BuildConfigFromFlags(endpoint, kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}
	config.Timeout = requestTimeout

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return clientset, nil
}

// Health is the result of a probe.
type Health struct {
	Endpoint      string `json:"endpoint"`
	ServerVersion string `json:"server_version"`
	Nodes         int    `json:"nodes"`
	ReadyNodes    int    `json:"ready_nodes"`
	Healthy       bool   `json:"healthy"`
}

// Prober queries the cluster's API server.
type Prober struct {
	endpoint  string
	newClient func() (kubernetes.Interface, error)
}

// NewProber creates a Prober. The client is built on every probe because the
// kubeconfig only appears once the cluster has started.
func NewProber(kubeconfig, endpoint string) *Prober {
	return &Prober{
		endpoint: endpoint,
		newClient: func() (kubernetes.Interface, error) {
			return NewClientset(kubeconfig, endpoint)
		},
	}
}

// NewProberForClient creates a Prober using client.
func NewProberForClient(client kubernetes.Interface, endpoint string) *Prober {
	return &Prober{
		endpoint: endpoint,
		newClient: func() (kubernetes.Interface, error) {
			return client, nil
		},
	}
}

// Health reports the server version and node readiness. The cluster is
// healthy when it has at least one node and every node is ready.
func (p *Prober) Health(ctx context.Context) (*Health, error) {
	client, err := p.newClient()
	if err != nil {
		return nil, err
	}

	version, err := client.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get server version: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	h := &Health{
		Endpoint:      p.endpoint,
		ServerVersion: version.GitVersion,
		Nodes:         len(nodes.Items),
	}
	for i := range nodes.Items {
		if nodeReady(&nodes.Items[i]) {
			h.ReadyNodes++
		}
	}
	h.Healthy = h.Nodes > 0 && h.ReadyNodes == h.Nodes
	return h, nil
}

func nodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
