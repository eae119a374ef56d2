package state_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
)

// MockDaemonClient is a mock implementation of the DaemonClient interface for testing
type MockDaemonClient struct {
	mu         sync.Mutex
	StatusFunc func(ctx context.Context) (*crc.StatusInfo, error)
	calls      int32
}

func (m *MockDaemonClient) Status(ctx context.Context) (*crc.StatusInfo, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	fn := m.StatusFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return &crc.StatusInfo{CrcStatus: "Stopped", Preset: "openshift"}, nil
}

func (m *MockDaemonClient) setStatus(status, preset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusFunc = func(ctx context.Context) (*crc.StatusInfo, error) {
		return &crc.StatusInfo{CrcStatus: status, Preset: preset}, nil
	}
}

func (m *MockDaemonClient) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusFunc = func(ctx context.Context) (*crc.StatusInfo, error) {
		return nil, errors.New("dial unix /home/u/.crc/crc-http.sock: connect: no such file or directory")
	}
}

func (m *MockDaemonClient) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

var _ = Describe("Tracker", func() {
	var (
		client  *MockDaemonClient
		tracker *state.Tracker
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &MockDaemonClient{}

		var err error
		tracker, err = state.NewTracker(&state.TrackerConfig{
			Client:       client,
			PollInterval: 10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		tracker.StopStatusUpdate()
	})

	Describe("NewTracker", func() {
		It("should require a client", func() {
			_, err := state.NewTracker(&state.TrackerConfig{PollInterval: time.Second})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("DaemonClient is required"))
		})

		It("should require a positive poll interval", func() {
			_, err := state.NewTracker(&state.TrackerConfig{Client: client})
			Expect(err).To(HaveOccurred())
		})

		It("should start with a defined status and a session ID", func() {
			s := tracker.Status()
			Expect(s.Status).To(Equal(crc.StatusUnknown))
			Expect(s.SessionID).NotTo(BeEmpty())
			Expect(tracker.ProviderStatus()).To(Equal(host.ProviderUnknown))
			Expect(tracker.ConnectionStatus()).To(Equal(host.ConnectionUnknown))
		})
	})

	Describe("Initialize", func() {
		It("should fetch the status synchronously", func() {
			client.setStatus("Running", "microshift")

			s := tracker.Initialize(ctx)
			Expect(s.Status).To(Equal(crc.StatusRunning))
			Expect(s.Preset).To(Equal(crc.PresetMicroShift))
			Expect(s.DaemonReachable).To(BeTrue())
			Expect(client.Calls()).To(Equal(1))
			Expect(tracker.ProviderStatus()).To(Equal(host.ProviderStarted))
		})

		It("should degrade to no cluster when the daemon is unreachable", func() {
			client.fail()

			s := tracker.Initialize(ctx)
			Expect(s.Status).To(Equal(crc.StatusNoCluster))
			Expect(s.DaemonReachable).To(BeFalse())
			Expect(s.Preset).To(Equal(crc.DefaultPreset))
			Expect(tracker.ConnectionStatus()).To(Equal(host.ConnectionStopped))
		})

		It("should keep unrecognised statuses as raw strings", func() {
			client.setStatus("Degraded", "openshift")

			s := tracker.Initialize(ctx)
			Expect(s.Status).To(Equal(crc.StatusUnknown))
			Expect(s.Raw).To(Equal("Degraded"))
		})
	})

	Describe("OnStatusChange", func() {
		It("should notify only on transitions", func() {
			var received []state.Snapshot
			tracker.OnStatusChange(func(s state.Snapshot) {
				received = append(received, s)
			})

			client.setStatus("Stopped", "openshift")
			Expect(tracker.Refresh(ctx)).To(BeTrue())
			Expect(tracker.Refresh(ctx)).To(BeFalse())
			Expect(tracker.Refresh(ctx)).To(BeFalse())

			client.setStatus("Running", "openshift")
			Expect(tracker.Refresh(ctx)).To(BeTrue())

			Expect(received).To(HaveLen(2))
			Expect(received[0].Status).To(Equal(crc.StatusStopped))
			Expect(received[1].Status).To(Equal(crc.StatusRunning))
		})

		It("should notify on a preset change", func() {
			client.setStatus("Running", "openshift")
			tracker.Refresh(ctx)

			var last state.Snapshot
			tracker.OnStatusChange(func(s state.Snapshot) { last = s })

			client.setStatus("Running", "podman")
			Expect(tracker.Refresh(ctx)).To(BeTrue())
			Expect(last.Preset).To(Equal(crc.PresetPodman))
		})

		It("should stop notifying after unsubscribe", func() {
			count := 0
			unsubscribe := tracker.OnStatusChange(func(s state.Snapshot) { count++ })

			client.setStatus("Running", "openshift")
			tracker.Refresh(ctx)
			unsubscribe()
			client.setStatus("Stopped", "openshift")
			tracker.Refresh(ctx)

			Expect(count).To(Equal(1))
		})
	})

	Describe("SetSetupRunning", func() {
		It("should report setup in progress while set", func() {
			client.setStatus("No Cluster", "openshift")
			tracker.Initialize(ctx)
			Expect(tracker.ProviderStatus()).To(Equal(host.ProviderConfigured))

			tracker.SetSetupRunning(true)
			Expect(tracker.SetupRunning()).To(BeTrue())
			Expect(tracker.ProviderStatus()).To(Equal(host.ProviderConfiguring))
			Expect(tracker.ConnectionStatus()).To(Equal(host.ConnectionStarting))

			// a poll must not drop the flag
			tracker.Refresh(ctx)
			Expect(tracker.SetupRunning()).To(BeTrue())

			tracker.SetSetupRunning(false)
			Expect(tracker.ProviderStatus()).To(Equal(host.ProviderConfigured))
		})
	})

	Describe("SetTransition", func() {
		It("should keep the transition status visible across polls", func() {
			client.setStatus("Stopped", "openshift")
			tracker.Initialize(ctx)

			tracker.SetTransition(crc.StatusStarting)
			Expect(tracker.Status().Status).To(Equal(crc.StatusStarting))
			Expect(tracker.ProviderStatus()).To(Equal(host.ProviderStarting))

			tracker.Refresh(ctx)
			Expect(tracker.Status().Status).To(Equal(crc.StatusStarting))
			Expect(tracker.Status().InTransition).To(BeTrue())

			client.setStatus("Running", "openshift")
			tracker.ClearTransition(ctx)
			Expect(tracker.Status().Status).To(Equal(crc.StatusRunning))
			Expect(tracker.Status().InTransition).To(BeFalse())
		})
	})

	Describe("StartStatusUpdate", func() {
		It("should poll periodically and survive failures", func() {
			client.fail()
			tracker.StartStatusUpdate(ctx)

			Eventually(client.Calls).Should(BeNumerically(">=", 3))
			Expect(tracker.Status().DaemonReachable).To(BeFalse())

			client.setStatus("Running", "openshift")
			Eventually(func() crc.ClusterStatus {
				return tracker.Status().Status
			}).Should(Equal(crc.StatusRunning))
		})

		It("should be idempotent", func() {
			tracker.StartStatusUpdate(ctx)
			tracker.StartStatusUpdate(ctx)
			Expect(tracker.Polling()).To(BeTrue())

			tracker.StopStatusUpdate()
			Expect(tracker.Polling()).To(BeFalse())

			calls := client.Calls()
			Consistently(client.Calls, 50*time.Millisecond).Should(Equal(calls))
		})

		It("should treat stop without start as a no-op", func() {
			tracker.StopStatusUpdate()
			Expect(tracker.Polling()).To(BeFalse())
		})
	})
})
