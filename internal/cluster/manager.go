// Package cluster drives the CRC cluster lifecycle for the provider.
//
// The Manager runs start, stop, initialize and delete against the CRC daemon,
// keeps the host-visible provider status in step, and recovers from the two
// start failures that have a known remedy: a missing pull secret, which is
// solicited from the user before retrying, and the connection reset the
// daemon produces after a successful start, which is treated as success.
//
// Lifecycle operations are exclusive. A second operation while one is in
// flight fails with ErrOperationInProgress instead of interleaving with it.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
	"github.com/meyrevived/crc-provider/internal/prompt"
	"github.com/meyrevived/crc-provider/internal/pullsecret"
)

const defaultLogPollInterval = time.Second

var (
	// ErrOperationInProgress is returned when another lifecycle operation is running.
	ErrOperationInProgress = errors.New("another cluster operation is in progress")
	// ErrSetupFailed is returned when the setup run before a start fails.
	ErrSetupFailed = errors.New("crc setup failed")
	// ErrPullSecretRequired is returned when the daemon needs a pull secret and none could be obtained.
	ErrPullSecretRequired = errors.New("could not start without pull secret")
	// ErrUnexpectedStatus is returned when the daemon finished a start without the cluster running.
	ErrUnexpectedStatus = errors.New("cluster did not reach Running")
)

// DaemonClient is the subset of the CRC daemon API used by the Manager.
type DaemonClient interface {
	Start(ctx context.Context) (*crc.StartResult, error)
	Stop(ctx context.Context) error
	Delete(ctx context.Context) error
	PullSecretStore(ctx context.Context, secret string) error
	Logs(ctx context.Context) ([]string, error)
}

// SetupRunner runs CRC setup.
type SetupRunner interface {
	NeedSetup(ctx context.Context) (bool, error)
	IsNeedSetup() bool
	SetUpCrc(ctx context.Context, logger logr.Logger, interactive bool) (bool, error)
}

// StatusTracker is the status cache the Manager pins during transitions.
type StatusTracker interface {
	Status() state.Snapshot
	Refresh(ctx context.Context) bool
	SetTransition(status crc.ClusterStatus)
	ClearTransition(ctx context.Context)
}

// Connector binds host connections to the configured preset.
type Connector interface {
	PresetChanged(ctx context.Context)
	Dispose()
}

// Recorder records usage telemetry.
type Recorder interface {
	Track(event string)
	RecordResult(operation string, err error, duration time.Duration)
}

// Dependencies holds the collaborators of a Manager.
type Dependencies struct {
	Client   DaemonClient
	Setup    SetupRunner
	Tracker  StatusTracker
	Provider host.Provider
	Notifier host.Notifier
	// Prompter solicits the pull secret when a start needs one
	Prompter prompt.Prompter
	// Telemetry may be nil
	Telemetry Recorder
	// LogPollInterval is how often daemon logs are fetched during a start; defaults to 1s
	LogPollInterval time.Duration
}

// Manager runs lifecycle operations. It implements host.Lifecycle.
type Manager struct {
	client    DaemonClient
	setup     SetupRunner
	tracker   StatusTracker
	provider  host.Provider
	notifier  host.Notifier
	prompter  prompt.Prompter
	telemetry Recorder

	logPollInterval time.Duration

	// opMutex allows one lifecycle operation at a time
	opMutex   sync.Mutex
	operation atomic.Value // string

	connMu    sync.RWMutex
	connector Connector

	regMu    sync.Mutex
	commands host.Disposable

	log logrus.FieldLogger
}

// NewManager creates a Manager.
func NewManager(deps Dependencies) *Manager {
	interval := deps.LogPollInterval
	if interval <= 0 {
		interval = defaultLogPollInterval
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = nopRecorder{}
	}

	m := &Manager{
		client:          deps.Client,
		setup:           deps.Setup,
		tracker:         deps.Tracker,
		provider:        deps.Provider,
		notifier:        deps.Notifier,
		prompter:        deps.Prompter,
		telemetry:       telemetry,
		logPollInterval: interval,
		log:             logrus.WithField("component", "cluster"),
	}
	m.operation.Store("")
	return m
}

// SetConnector sets the preset binder notified after setup and start, and
// disposed on delete.
func (m *Manager) SetConnector(c Connector) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connector = c
}

func (m *Manager) presetChanged(ctx context.Context) {
	m.connMu.RLock()
	c := m.connector
	m.connMu.RUnlock()
	if c != nil {
		c.PresetChanged(ctx)
	}
}

func (m *Manager) disposeConnection() {
	m.connMu.RLock()
	c := m.connector
	m.connMu.RUnlock()
	if c != nil {
		c.Dispose()
	}
}

// InProgress reports whether a lifecycle operation is running.
func (m *Manager) InProgress() bool {
	return m.Operation() != ""
}

// Operation returns the name of the running lifecycle operation, or "" when idle.
func (m *Manager) Operation() string {
	return m.operation.Load().(string)
}

// exclusive runs fn as the named operation, refusing to run concurrently with another.
func (m *Manager) exclusive(name string, fn func() error) error {
	if !m.opMutex.TryLock() {
		m.log.Warnf("WARNING: Refusing %s: %s is in progress", name, m.Operation())
		return ErrOperationInProgress
	}
	defer m.opMutex.Unlock()

	m.operation.Store(name)
	defer m.operation.Store("")

	began := time.Now()
	m.telemetry.Track("crc." + name)
	err := fn()
	m.telemetry.RecordResult(name, err, time.Since(began))
	return err
}

// RegisterCommands binds the Manager as the provider's lifecycle commands,
// replacing an earlier registration.
func (m *Manager) RegisterCommands() host.Disposable {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if m.commands != nil {
		m.commands.Dispose()
	}
	m.commands = m.provider.RegisterLifecycle(m)
	return m.commands
}

func (m *Manager) unregisterCommands() {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if m.commands != nil {
		m.commands.Dispose()
		m.commands = nil
	}
}

// Start starts the cluster, asking for a pull secret with the default prompter
// when the daemon needs one.
func (m *Manager) Start(ctx context.Context, logger logr.Logger) error {
	return m.StartWith(ctx, logger, nil)
}

// StartWith starts the cluster using prompter for the pull secret. A nil
// prompter means the default one.
func (m *Manager) StartWith(ctx context.Context, logger logr.Logger, prompter prompt.Prompter) error {
	if prompter == nil {
		prompter = m.prompter
	}
	return m.exclusive("start", func() error {
		return m.start(ctx, logger, prompter)
	})
}

func (m *Manager) start(ctx context.Context, logger logr.Logger, prompter prompt.Prompter) error {
	// Visible before the first daemon call so observers never race in.
	m.provider.UpdateStatus(host.ProviderStarting)
	m.tracker.SetTransition(crc.StatusStarting)

	if m.setup.IsNeedSetup() {
		logger.Info("CRC needs setup, running crc setup")
		ok, err := m.setup.SetUpCrc(ctx, logger, true)
		if err != nil || !ok {
			m.log.Errorf("ERROR: Setup before start failed: %v", err)
			m.notifier.ShowError(fmt.Sprintf("Failed to set up CRC: %v", err))
			m.finish(ctx, host.ProviderStopped)
			return fmt.Errorf("%w: %v", ErrSetupFailed, err)
		}
	}

	streamCtx, stopStreaming := context.WithCancel(ctx)
	streamDone := m.streamLogs(streamCtx, logger)
	defer func() {
		stopStreaming()
		<-streamDone
	}()

	logger.Info("Starting CRC cluster")
	for {
		if err := ctx.Err(); err != nil {
			m.finish(ctx, host.ProviderStopped)
			return err
		}

		result, err := m.client.Start(ctx)
		if err == nil {
			if result.ClusterStatus() == crc.StatusRunning {
				return m.started(ctx, logger)
			}
			m.log.Errorf("ERROR: CRC start finished with status %q", result.Status)
			msg := fmt.Sprintf("CRC did not start: status is %q", result.Status)
			if result.Error != "" {
				msg += ": " + result.Error
			}
			m.notifier.ShowError(msg)
			m.finish(ctx, host.ProviderError)
			return fmt.Errorf("%w: %s", ErrUnexpectedStatus, result.Status)
		}

		switch {
		case crc.IsMissingPullSecret(err):
			logger.Info("CRC needs a pull secret")
			if perr := m.obtainPullSecret(ctx, prompter); perr != nil {
				m.log.Errorf("ERROR: Could not obtain pull secret: %v", perr)
				m.notifier.ShowError(fmt.Sprintf("%s: %v", ErrPullSecretRequired, perr))
				m.finish(ctx, host.ProviderStopped)
				return fmt.Errorf("%w: %v", ErrPullSecretRequired, perr)
			}
			logger.Info("Pull secret stored, retrying start")

		case crc.IsConnectionReset(err):
			// The daemon resets the connection after a successful start.
			m.log.Debugf("Start response was a connection reset, treating as started: %v", err)
			return m.started(ctx, logger)

		default:
			m.log.Errorf("ERROR: Failed to start CRC: %v", err)
			m.notifier.ShowError(err.Error())
			m.finish(ctx, host.ProviderStopped)
			return fmt.Errorf("failed to start CRC: %w", err)
		}
	}
}

func (m *Manager) started(ctx context.Context, logger logr.Logger) error {
	logger.Info("CRC cluster is running")
	m.finish(ctx, host.ProviderStarted)
	return nil
}

// finish unpins the transition and sets the final provider status. The status
// is set last so a refresh during the unpin cannot overwrite it.
func (m *Manager) finish(ctx context.Context, status host.ProviderStatus) {
	m.tracker.ClearTransition(context.WithoutCancel(ctx))
	m.provider.UpdateStatus(status)
}

// obtainPullSecret asks for a pull secret, validates it, and stores it in the daemon.
func (m *Manager) obtainPullSecret(ctx context.Context, prompter prompt.Prompter) error {
	if prompter == nil {
		return prompt.ErrNoInput
	}

	secret, err := prompter.PullSecret(ctx)
	if err != nil {
		return err
	}
	if err := pullsecret.Validate(secret); err != nil {
		m.notifier.ShowError(err.Error())
		return err
	}
	if err := m.client.PullSecretStore(ctx, secret); err != nil {
		m.log.Errorf("ERROR: Failed to store pull secret: %v", err)
		return fmt.Errorf("failed to store pull secret: %w", err)
	}
	return nil
}

// streamLogs writes daemon log messages produced after it starts to logger
// until ctx is done. The returned channel is closed when streaming stops.
func (m *Manager) streamLogs(ctx context.Context, logger logr.Logger) <-chan struct{} {
	done := make(chan struct{})
	seen := -1

	go func() {
		defer close(done)
		wait.UntilWithContext(ctx, func(ctx context.Context) {
			messages, err := m.client.Logs(ctx)
			if err != nil {
				m.log.Debugf("Daemon logs unavailable: %v", err)
				return
			}
			switch {
			case seen < 0:
				// history from before this start
			case len(messages) < seen:
				// the daemon restarted its log buffer
				for _, msg := range messages {
					logger.Info(msg)
				}
			default:
				for _, msg := range messages[seen:] {
					logger.Info(msg)
				}
			}
			seen = len(messages)
		}, m.logPollInterval)
	}()
	return done
}

// Stop stops the cluster.
func (m *Manager) Stop(ctx context.Context) error {
	return m.exclusive("stop", func() error {
		m.provider.UpdateStatus(host.ProviderStopping)
		m.tracker.SetTransition(crc.StatusStopping)

		err := m.client.Stop(ctx)
		m.tracker.ClearTransition(context.WithoutCancel(ctx))

		s := m.tracker.Status()
		m.provider.UpdateStatus(state.ProviderStatusFor(s.Status, s.SetupRunning))

		if err != nil {
			m.log.Errorf("ERROR: Failed to stop CRC: %v", err)
			m.notifier.ShowError(fmt.Sprintf("Failed to stop CRC: %v", err))
			return fmt.Errorf("failed to stop CRC: %w", err)
		}
		m.log.Info("CRC cluster stopped")
		return nil
	})
}

// InitializeCluster is the first-run path. When setup is required it runs
// setup, binds the preset connection, and only then starts; a failed setup
// fails the initialize without starting.
func (m *Manager) InitializeCluster(ctx context.Context, logger logr.Logger) error {
	return m.exclusive("initialize", func() error {
		if m.setup.IsNeedSetup() || m.tracker.Status().Status == crc.StatusNeedSetup {
			m.provider.UpdateStatus(host.ProviderConfiguring)
			logger.Info("Running first-time CRC setup")

			ok, err := m.setup.SetUpCrc(ctx, logger, true)
			if err != nil || !ok {
				m.log.Errorf("ERROR: Initial setup failed: %v", err)
				m.notifier.ShowError(fmt.Sprintf("Failed to set up CRC: %v", err))
				m.provider.UpdateStatus(host.ProviderInstalled)
				return fmt.Errorf("%w: %v", ErrSetupFailed, err)
			}
			m.presetChanged(ctx)
		}

		if err := m.start(ctx, logger, m.prompter); err != nil {
			return err
		}
		m.presetChanged(ctx)
		return nil
	})
}

// Delete deletes the cluster. The caller must have obtained confirmation.
// Once the daemon confirms, the connection binding and lifecycle commands are
// removed and the setup-required flag is re-checked; if it refuses nothing
// changes.
func (m *Manager) Delete(ctx context.Context) error {
	return m.exclusive("delete", func() error {
		if err := m.client.Delete(ctx); err != nil {
			m.log.Errorf("ERROR: Failed to delete CRC cluster: %v", err)
			m.notifier.ShowError(fmt.Sprintf("Failed to delete CRC cluster: %v", err))
			return fmt.Errorf("failed to delete CRC cluster: %w", err)
		}

		m.disposeConnection()
		m.unregisterCommands()

		// a deleted machine can leave the host needing setup again
		if _, err := m.setup.NeedSetup(context.WithoutCancel(ctx)); err != nil {
			m.log.Warnf("WARNING: Could not re-check setup after delete: %v", err)
		}

		m.tracker.Refresh(context.WithoutCancel(ctx))
		s := m.tracker.Status()
		m.provider.UpdateStatus(state.ProviderStatusFor(s.Status, s.SetupRunning))

		m.log.Info("CRC cluster deleted")
		return nil
	})
}

type nopRecorder struct{}

func (nopRecorder) Track(string) {}
func (nopRecorder) RecordResult(string, error, time.Duration) {}
