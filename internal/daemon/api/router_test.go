package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/api"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
	"github.com/meyrevived/crc-provider/internal/prereq"
	"github.com/meyrevived/crc-provider/internal/telemetry"
)

var _ = Describe("Router", func() {
	var (
		registry *prometheus.Registry
		recorder *telemetry.Recorder
		router   *http.ServeMux
	)

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
		recorder = telemetry.NewRecorder(registry)

		handlers := api.NewHandlers(api.Dependencies{
			Status:        &mockStatus{snapshot: state.Snapshot{Status: crc.StatusStopped, DaemonReachable: true}},
			Provider:      host.NewRegistry("crc"),
			Notifications: host.NewLogNotifier(),
			Cluster:       &mockCluster{},
			Setup:         &mockSetup{},
			Binder:        &mockBinder{preset: crc.PresetOpenShift},
			Prereqs:       &mockPrereqs{result: &prereq.CheckResult{AllMet: true}},
		})
		router = api.NewRouter(handlers, registry)
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	Describe("NewRouter", func() {
		It("should create a new ServeMux", func() {
			Expect(router).NotTo(BeNil())
		})

		It("should fall back to the default gatherer", func() {
			Expect(api.NewRouter(api.NewHandlers(api.Dependencies{}), nil)).NotTo(BeNil())
		})
	})

	Describe("Route Mapping", func() {
		DescribeTable("registered routes",
			func(method, path string, expected int) {
				Expect(serve(method, path).Code).To(Equal(expected))
			},
			Entry("GET /api/status", http.MethodGet, "/api/status", http.StatusOK),
			Entry("GET /api/provider", http.MethodGet, "/api/provider", http.StatusOK),
			Entry("GET /api/prerequisites", http.MethodGet, "/api/prerequisites", http.StatusOK),
			Entry("POST /api/cluster/start", http.MethodPost, "/api/cluster/start", http.StatusAccepted),
			Entry("POST /api/cluster/stop", http.MethodPost, "/api/cluster/stop", http.StatusAccepted),
			Entry("POST /api/cluster/initialize", http.MethodPost, "/api/cluster/initialize", http.StatusAccepted),
			Entry("POST /api/cluster/delete without confirmation", http.MethodPost, "/api/cluster/delete", http.StatusBadRequest),
			Entry("POST /api/setup", http.MethodPost, "/api/setup", http.StatusAccepted),
			Entry("POST /api/preset/refresh", http.MethodPost, "/api/preset/refresh", http.StatusOK),
			Entry("GET /api/kubernetes/health while stopped", http.MethodGet, "/api/kubernetes/health", http.StatusConflict),
			Entry("GET /metrics", http.MethodGet, "/metrics", http.StatusOK),
		)

		It("should return 404 for unknown routes", func() {
			Expect(serve(http.MethodGet, "/api/unknown").Code).To(Equal(http.StatusNotFound))
		})

		It("should return 405 for wrong methods", func() {
			Expect(serve(http.MethodPost, "/api/status").Code).To(Equal(http.StatusMethodNotAllowed))
			Expect(serve(http.MethodGet, "/api/cluster/stop").Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("/metrics", func() {
		It("should expose the provider metrics", func() {
			recorder.Track("crc.start")
			recorder.RecordResult("start", errors.New("boom"), 0)

			rr := serve(http.MethodGet, "/metrics")
			Expect(rr.Code).To(Equal(http.StatusOK))

			body := rr.Body.String()
			Expect(body).To(ContainSubstring(`crc_provider_events_total{event="crc.start"} 1`))
			Expect(body).To(ContainSubstring(`crc_provider_operation_total{operation="start",result="failure"} 1`))
		})
	})
})
