package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/meyrevived/crc-provider/internal/cluster"
	"github.com/meyrevived/crc-provider/internal/config"
	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/api"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/extension"
	"github.com/meyrevived/crc-provider/internal/host"
	"github.com/meyrevived/crc-provider/internal/kube"
	"github.com/meyrevived/crc-provider/internal/prereq"
	"github.com/meyrevived/crc-provider/internal/preset"
	"github.com/meyrevived/crc-provider/internal/prompt"
	"github.com/meyrevived/crc-provider/internal/setup"
	"github.com/meyrevived/crc-provider/internal/telemetry"
)

// providerName is the name the provider registers under.
const providerName = "crc"

// provider holds the wired components.
type provider struct {
	cfg *config.Config

	client    *crc.Client
	cli       *crc.CLI
	tracker   *state.Tracker
	registry  *host.Registry
	notifier  *host.LogNotifier
	setup     *setup.Coordinator
	metrics   *prometheus.Registry
	telemetry *telemetry.Recorder
	manager   *cluster.Manager
	binder    *preset.Binder
}

// newProvider wires the components. prompter answers the pull secret,
// preset, and confirmation questions.
func newProvider(cfg *config.Config, prompter prompt.Prompter) (*provider, error) {
	client := crc.NewClient(cfg.DaemonSocket, cfg.RequestTimeout)
	cli := crc.NewCLI(cfg.CrcBinary)

	// RequestTimeout is sized for start; status polls keep the tracker's short default
	tracker, err := state.NewTracker(&state.TrackerConfig{
		Client:       client,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create status tracker: %w", err)
	}

	registry := host.NewRegistry(providerName)
	notifier := host.NewLogNotifier()
	coordinator := setup.NewCoordinator(cli, client, tracker, prompter)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := telemetry.NewRecorder(metrics)

	manager := cluster.NewManager(cluster.Dependencies{
		Client:    client,
		Setup:     coordinator,
		Tracker:   tracker,
		Provider:  registry,
		Notifier:  notifier,
		Prompter:  prompter,
		Telemetry: recorder,
	})

	binder := preset.NewBinder(preset.Config{
		Client:           client,
		Provider:         registry,
		Notifier:         notifier,
		Status:           tracker,
		KubeAPIEndpoint:  cfg.KubeAPIEndpoint,
		KubeconfigPath:   cfg.KubeconfigPath,
		PodmanSocketPath: cfg.PodmanSocketPath(),
	})
	binder.SetLifecycle(manager)
	manager.SetConnector(binder)

	return &provider{
		cfg:       cfg,
		client:    client,
		cli:       cli,
		tracker:   tracker,
		registry:  registry,
		notifier:  notifier,
		setup:     coordinator,
		metrics:   metrics,
		telemetry: recorder,
		manager:   manager,
		binder:    binder,
	}, nil
}

// extension returns the activation entry point. The daemon is launched on
// activation only when AutoStartDaemon is set.
func (p *provider) extension() *extension.Extension {
	opts := extension.Options{
		Client:   p.client,
		Tracker:  p.tracker,
		Setup:    p.setup,
		Commands: p.manager,
		Binder:   p.binder,
		Provider: p.registry,
	}
	if p.cfg.AutoStartDaemon {
		opts.LaunchDaemon = func() (extension.Daemon, error) {
			d, err := p.cli.StartDaemon()
			if err != nil {
				// a typed nil would look like a running daemon
				return nil, err
			}
			return d, nil
		}
	}
	return extension.New(opts)
}

// handlers returns the HTTP API handlers.
func (p *provider) handlers() *api.Handlers {
	return api.NewHandlers(api.Dependencies{
		Status:        p.tracker,
		Provider:      p.registry,
		Notifications: p.notifier,
		Cluster:       p.manager,
		Setup:         p.setup,
		Binder:        p.binder,
		Prereqs:       prereq.NewChecker(p.cfg),
		Prober:        kube.NewProber(p.cfg.KubeconfigPath, p.cfg.KubeAPIEndpoint),
	})
}

func setLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(parsed)
	return nil
}
