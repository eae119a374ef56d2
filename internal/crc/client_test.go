package crc_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/crc-provider/internal/crc"
)

func TestCrc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CRC Client Suite")
}

// newUnixServer serves handler on a unix socket inside dir.
func newUnixServer(dir string, handler http.Handler) (*httptest.Server, string) {
	socketPath := filepath.Join(dir, "crc-http.sock")
	listener, err := net.Listen("unix", socketPath)
	Expect(err).NotTo(HaveOccurred())

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	return server, socketPath
}

var _ = Describe("Client", func() {
	var (
		tempDir    string
		server     *httptest.Server
		client     *crc.Client
		mux        *http.ServeMux
		lastBody   string
		lastMethod string
		ctx        context.Context
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "crc-")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()

		mux = http.NewServeMux()
		mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"CrcVersion":"2.40.0","CommitSha":"abc","OpenshiftVersion":"4.16.4","Installed":true}`)
		})
		mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"CrcStatus":"Running","OpenshiftStatus":"Running","Preset":"microshift"}`)
		})
		mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"Configs":{"preset":"podman","cpus":4}}`)
		})
		mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"Messages":["one","two"]}`)
		})
		mux.HandleFunc("/api/stop", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/api/pull-secret", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			lastBody = string(body)
			lastMethod = r.Method
			w.WriteHeader(http.StatusCreated)
		})

		server, _ = newUnixServer(tempDir, mux)
		client = crc.NewClient(filepath.Join(tempDir, "crc-http.sock"), 5*time.Second)
	})

	AfterEach(func() {
		server.Close()
		_ = os.RemoveAll(tempDir)
	})

	It("should fetch the version", func() {
		v, err := client.Version(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.CrcVersion).To(Equal("2.40.0"))
		Expect(v.Installed).To(BeTrue())
	})

	It("should fetch and translate the status", func() {
		s, err := client.Status(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.ClusterStatus()).To(Equal(crc.StatusRunning))
		Expect(crc.ParsePreset(s.Preset)).To(Equal(crc.PresetMicroShift))
	})

	It("should read the preset from the configuration", func() {
		cfg, err := client.ConfigGet(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Preset()).To(Equal(crc.PresetPodman))
	})

	It("should return the daemon log messages", func() {
		msgs, err := client.Logs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(Equal([]string{"one", "two"}))
	})

	It("should accept an empty successful body", func() {
		Expect(client.Stop(ctx)).To(Succeed())
	})

	It("should forward the pull secret verbatim", func() {
		secret := `{"auths":{"registry.io":{"auth":"xxx"}}}`
		Expect(client.PullSecretStore(ctx, secret)).To(Succeed())
		Expect(lastMethod).To(Equal(http.MethodPost))
		Expect(lastBody).To(Equal(secret))
	})

	It("should surface daemon errors as APIError and classify a missing pull secret", func() {
		mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Failed to ask for pull secret: not a terminal", http.StatusInternalServerError)
		})

		_, err := client.Start(ctx)
		Expect(err).To(HaveOccurred())

		var apiErr *crc.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusInternalServerError))
		Expect(crc.IsMissingPullSecret(err)).To(BeTrue())
		Expect(crc.IsConnectionReset(err)).To(BeFalse())
	})

	It("should classify a connection closed without a response as a reset", func() {
		mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			hj, ok := w.(http.Hijacker)
			Expect(ok).To(BeTrue())
			conn, _, err := hj.Hijack()
			Expect(err).NotTo(HaveOccurred())
			_ = conn.Close()
		})

		_, err := client.Start(ctx)
		Expect(err).To(HaveOccurred())
		Expect(crc.IsConnectionReset(err)).To(BeTrue())
		Expect(crc.IsMissingPullSecret(err)).To(BeFalse())
	})

	It("should classify an empty successful start response as a reset", func() {
		mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		result, err := client.Start(ctx)
		Expect(result).To(BeNil())
		Expect(err).To(MatchError(crc.ErrEmptyResponse))
		Expect(crc.IsConnectionReset(err)).To(BeTrue())
	})

	It("should decode a start response with a body", func() {
		mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"Status":"Running"}`)
		})

		result, err := client.Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ClusterStatus()).To(Equal(crc.StatusRunning))
	})

	It("should report an unreachable daemon", func() {
		unreachable := crc.NewClient(filepath.Join(tempDir, "missing.sock"), time.Second)

		_, err := unreachable.Status(ctx)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, crc.ErrDaemonUnavailable)).To(BeTrue())
		Expect(crc.IsConnectionReset(err)).To(BeFalse())
	})
})

var _ = Describe("Error classification", func() {
	It("should match ECONNRESET anywhere in the chain", func() {
		err := fmt.Errorf("crc daemon GET /api/start: %w", &net.OpError{
			Op:  "read",
			Net: "unix",
			Err: os.NewSyscallError("read", syscall.ECONNRESET),
		})
		Expect(crc.IsConnectionReset(err)).To(BeTrue())
	})

	It("should match a truncated response", func() {
		err := fmt.Errorf("failed to read response of /api/start: %w", io.ErrUnexpectedEOF)
		Expect(crc.IsConnectionReset(err)).To(BeTrue())
	})

	It("should not match other connection errors", func() {
		err := &net.OpError{Op: "read", Net: "unix", Err: os.NewSyscallError("read", syscall.ECONNREFUSED)}
		Expect(crc.IsConnectionReset(err)).To(BeFalse())
		Expect(crc.IsConnectionReset(errors.New("timeout"))).To(BeFalse())
		Expect(crc.IsConnectionReset(nil)).To(BeFalse())
	})

	It("should match the pull secret marker only as a prefix", func() {
		Expect(crc.IsMissingPullSecret(errors.New("Failed to ask for pull secret"))).To(BeTrue())
		Expect(crc.IsMissingPullSecret(errors.New("start failed: Failed to ask for pull secret"))).To(BeFalse())
		Expect(crc.IsMissingPullSecret(nil)).To(BeFalse())
	})
})

var _ = Describe("Types", func() {
	It("should fall back to Unknown for unrecognised statuses", func() {
		Expect(crc.ParseClusterStatus("Running")).To(Equal(crc.StatusRunning))
		Expect(crc.ParseClusterStatus("No Cluster")).To(Equal(crc.StatusNoCluster))
		Expect(crc.ParseClusterStatus("Need Setup")).To(Equal(crc.StatusNeedSetup))
		Expect(crc.ParseClusterStatus("Degraded")).To(Equal(crc.StatusUnknown))
		Expect(crc.ParseClusterStatus("")).To(Equal(crc.StatusUnknown))
	})

	It("should fall back to the default preset", func() {
		Expect(crc.ParsePreset("MicroShift")).To(Equal(crc.PresetMicroShift))
		Expect(crc.ParsePreset("okd")).To(Equal(crc.DefaultPreset))
		Expect(crc.ParsePreset("")).To(Equal(crc.PresetOpenShift))
		var cfg *crc.Configuration
		Expect(cfg.Preset()).To(Equal(crc.DefaultPreset))
	})

	It("should give human-readable preset names", func() {
		Expect(crc.PresetOpenShift.DisplayName()).To(Equal("OpenShift"))
		Expect(crc.PresetMicroShift.DisplayName()).To(Equal("MicroShift"))
		Expect(crc.PresetPodman.DisplayName()).To(Equal("Podman"))
		Expect(crc.PresetPodman.IsKubernetes()).To(BeFalse())
		Expect(crc.PresetMicroShift.IsKubernetes()).To(BeTrue())
	})
})
