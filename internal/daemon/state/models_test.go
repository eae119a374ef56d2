package state_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
)

func TestState(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "State Suite")
}

var allStatuses = []crc.ClusterStatus{
	crc.StatusRunning,
	crc.StatusStarting,
	crc.StatusStopping,
	crc.StatusStopped,
	crc.StatusNoCluster,
	crc.StatusNeedSetup,
	crc.StatusError,
	crc.StatusUnknown,
	crc.ClusterStatus("Degraded"),
	crc.ClusterStatus(""),
}

var _ = Describe("Status mapping", func() {
	It("should map every status to a defined provider and connection status", func() {
		for _, s := range allStatuses {
			for _, setupRunning := range []bool{false, true} {
				Expect(state.ProviderStatusFor(s, setupRunning)).NotTo(BeEmpty(), "provider status for %q", s)
				Expect(state.ConnectionStatusFor(s, setupRunning)).NotTo(BeEmpty(), "connection status for %q", s)
			}
		}
	})

	DescribeTable("provider and connection status",
		func(status crc.ClusterStatus, provider host.ProviderStatus, connection host.ConnectionStatus) {
			Expect(state.ProviderStatusFor(status, false)).To(Equal(provider))
			Expect(state.ConnectionStatusFor(status, false)).To(Equal(connection))
		},
		Entry("running", crc.StatusRunning, host.ProviderStarted, host.ConnectionStarted),
		Entry("starting", crc.StatusStarting, host.ProviderStarting, host.ConnectionStarting),
		Entry("stopping", crc.StatusStopping, host.ProviderStopping, host.ConnectionStopping),
		Entry("stopped", crc.StatusStopped, host.ProviderStopped, host.ConnectionStopped),
		Entry("no cluster", crc.StatusNoCluster, host.ProviderConfigured, host.ConnectionStopped),
		Entry("need setup", crc.StatusNeedSetup, host.ProviderInstalled, host.ConnectionUnknown),
		Entry("error", crc.StatusError, host.ProviderError, host.ConnectionUnknown),
		Entry("unrecognised", crc.ClusterStatus("Degraded"), host.ProviderUnknown, host.ConnectionUnknown),
	)

	It("should report setup in progress even when the daemon reports no cluster", func() {
		Expect(state.ProviderStatusFor(crc.StatusNoCluster, true)).To(Equal(host.ProviderConfiguring))
		Expect(state.ConnectionStatusFor(crc.StatusNoCluster, true)).To(Equal(host.ConnectionStarting))
	})
})
