package host_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/crc-provider/internal/host"
)

func TestHost(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Host Suite")
}

type nopLifecycle struct{ name string }

func (*nopLifecycle) Start(ctx context.Context, logger logr.Logger) error { return nil }
func (*nopLifecycle) Stop(ctx context.Context) error                      { return nil }
func (*nopLifecycle) Delete(ctx context.Context) error                    { return nil }

var _ = Describe("Registry", func() {
	var registry *host.Registry

	BeforeEach(func() {
		registry = host.NewRegistry("crc")
	})

	It("should start as not-installed", func() {
		Expect(registry.Status()).To(Equal(host.ProviderNotInstalled))
		Expect(registry.Snapshot().Name).To(Equal("crc"))
	})

	It("should track status and version", func() {
		registry.UpdateStatus(host.ProviderStarted)
		registry.UpdateVersion("2.40.0 (OpenShift)")

		snap := registry.Snapshot()
		Expect(snap.Status).To(Equal(host.ProviderStarted))
		Expect(snap.Version).To(Equal("2.40.0 (OpenShift)"))
	})

	It("should register and dispose connections", func() {
		kube := registry.RegisterKubernetesConnection(host.KubernetesConnection{
			Name:     "crc",
			Endpoint: "https://api.crc.testing:6443",
			Status:   func() host.ConnectionStatus { return host.ConnectionStarted },
		})
		podman := registry.RegisterContainerConnection(host.ContainerConnection{
			Name:       "crc-podman",
			Type:       "podman",
			SocketPath: "/home/u/.crc/machines/crc/docker.sock",
		})

		conns := registry.Connections()
		Expect(conns).To(HaveLen(2))
		Expect(conns[0].Kind).To(Equal("kubernetes"))
		Expect(conns[0].Status).To(Equal(host.ConnectionStarted))
		Expect(conns[0].ID).NotTo(BeEmpty())
		Expect(conns[1].Kind).To(Equal("podman"))
		Expect(conns[1].Status).To(Equal(host.ConnectionUnknown))

		kube.Dispose()
		kube.Dispose()
		Expect(registry.Connections()).To(HaveLen(1))

		podman.Dispose()
		Expect(registry.Connections()).To(BeEmpty())
	})

	It("should bind and release lifecycle commands", func() {
		lc := &nopLifecycle{name: "crc"}
		handle := registry.RegisterLifecycle(lc)
		Expect(registry.Lifecycle()).To(BeIdenticalTo(lc))
		Expect(registry.Snapshot().LifecycleRegistered).To(BeTrue())

		handle.Dispose()
		Expect(registry.Lifecycle()).To(BeNil())
	})

	It("should not let a stale handle release a newer registration", func() {
		first := registry.RegisterLifecycle(&nopLifecycle{name: "first"})
		second := &nopLifecycle{name: "second"}
		registry.RegisterLifecycle(second)

		first.Dispose()
		Expect(registry.Lifecycle()).To(BeIdenticalTo(second))
	})
})

var _ = Describe("LogNotifier", func() {
	It("should keep the most recent notifications", func() {
		n := host.NewLogNotifier()
		for i := 0; i < 60; i++ {
			n.ShowInfo(fmt.Sprintf("message %d", i))
		}
		n.ShowError("boom")

		recent := n.Recent()
		Expect(recent).To(HaveLen(50))
		Expect(recent[len(recent)-1].Level).To(Equal("error"))
		Expect(recent[len(recent)-1].Message).To(Equal("boom"))
		Expect(recent[0].Message).To(Equal("message 11"))
	})
})
