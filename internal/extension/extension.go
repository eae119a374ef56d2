// Package extension wires the provider together on activation and tears it
// down on deactivation.
package extension

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
)

const (
	defaultDaemonAttempts = 10
	defaultDaemonDelay    = time.Second
	daemonStopTimeout     = 30 * time.Second
)

// VersionClient probes the daemon.
type VersionClient interface {
	Version(ctx context.Context) (*crc.VersionInfo, error)
}

// Daemon is a daemon process launched by the provider.
type Daemon interface {
	Stop(timeout time.Duration) error
}

// Tracker is the status tracker driven by the extension.
type Tracker interface {
	Initialize(ctx context.Context) state.Snapshot
	OnStatusChange(handler func(state.Snapshot)) func()
	StartStatusUpdate(ctx context.Context)
	StopStatusUpdate()
}

// SetupChecker decides whether setup is needed.
type SetupChecker interface {
	NeedSetup(ctx context.Context) (bool, error)
}

// Commands registers the lifecycle commands.
type Commands interface {
	RegisterCommands() host.Disposable
}

// Binder binds connections to the configured preset.
type Binder interface {
	SetCrcVersion(version string)
	PresetChanged(ctx context.Context)
	HandleStatusChange(s state.Snapshot)
	Dispose()
}

// Options holds the collaborators of an Extension.
type Options struct {
	Client   VersionClient
	Tracker  Tracker
	Setup    SetupChecker
	Commands Commands
	Binder   Binder
	Provider host.Provider

	// LaunchDaemon starts "crc daemon"; nil disables launching
	LaunchDaemon func() (Daemon, error)

	// DaemonAttempts and DaemonDelay bound the wait for the daemon
	DaemonAttempts uint
	DaemonDelay    time.Duration
}

// Extension is the activated provider.
type Extension struct {
	opts Options

	mu          sync.Mutex
	active      bool
	daemon      Daemon
	commands    host.Disposable
	unsubscribe func()
	version     *crc.VersionInfo

	log logrus.FieldLogger
}

// New creates an Extension.
func New(opts Options) *Extension {
	if opts.DaemonAttempts == 0 {
		opts.DaemonAttempts = defaultDaemonAttempts
	}
	if opts.DaemonDelay <= 0 {
		opts.DaemonDelay = defaultDaemonDelay
	}
	return &Extension{
		opts: opts,
		log:  logrus.WithField("component", "extension"),
	}
}

// Activate probes the daemon, derives the initial provider state, binds the
// preset connection when the host is set up, registers the lifecycle
// commands, and starts status polling. An unreachable daemon is not an
// error: the provider is reported as not installed and polling picks the
// daemon up once it appears.
func (e *Extension) Activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return errors.New("extension is already active")
	}

	version, err := e.waitForDaemon(ctx)
	if err != nil {
		if ctx.Err() != nil {
			e.stopDaemon()
			return ctx.Err()
		}
		e.log.Warnf("WARNING: CRC daemon is not reachable: %v", err)
		e.opts.Provider.UpdateStatus(host.ProviderNotInstalled)
	} else {
		e.version = version
		e.log.Infof("CRC %s detected", version.CrcVersion)
		e.opts.Binder.SetCrcVersion(version.CrcVersion)
		e.opts.Provider.UpdateVersion(version.CrcVersion)
		e.opts.Provider.UpdateStatus(host.ProviderInstalled)
	}

	snapshot := e.opts.Tracker.Initialize(ctx)

	needSetup, err := e.opts.Setup.NeedSetup(ctx)
	if err != nil {
		e.log.Warnf("WARNING: Could not determine whether CRC needs setup: %v", err)
	}

	if version != nil && !needSetup {
		e.opts.Binder.PresetChanged(ctx)
		if snapshot.DaemonReachable {
			e.opts.Provider.UpdateStatus(state.ProviderStatusFor(snapshot.Status, snapshot.SetupRunning))
		}
	}

	e.commands = e.opts.Commands.RegisterCommands()
	e.unsubscribe = e.opts.Tracker.OnStatusChange(e.statusChanged)
	e.opts.Tracker.StartStatusUpdate(ctx)

	e.active = true
	e.log.Info("CRC provider activated")
	return nil
}

func (e *Extension) statusChanged(s state.Snapshot) {
	// An unreachable daemon says nothing about the cluster.
	if !s.DaemonReachable && !s.SetupRunning {
		return
	}
	e.opts.Provider.UpdateStatus(state.ProviderStatusFor(s.Status, s.SetupRunning))
	e.opts.Binder.HandleStatusChange(s)
}

// waitForDaemon retries the version probe, launching the daemon once when it
// is unavailable and launching is enabled.
func (e *Extension) waitForDaemon(ctx context.Context) (*crc.VersionInfo, error) {
	var version *crc.VersionInfo

	err := retry.Do(
		func() error {
			v, err := e.opts.Client.Version(ctx)
			if err != nil {
				return err
			}
			version = v
			return nil
		},
		retry.Attempts(e.opts.DaemonAttempts),
		retry.Delay(e.opts.DaemonDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, crc.ErrDaemonUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			e.log.Debugf("CRC daemon not ready (attempt %d): %v", n+1, err)
			e.launchDaemon()
		}),
	)
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (e *Extension) launchDaemon() {
	if e.daemon != nil || e.opts.LaunchDaemon == nil {
		return
	}
	d, err := e.opts.LaunchDaemon()
	if err != nil {
		e.log.Warnf("WARNING: Failed to launch the CRC daemon: %v", err)
		// do not try again on the next attempt
		e.opts.LaunchDaemon = nil
		return
	}
	e.daemon = d
}

// Version returns the daemon version found on activation, or nil.
func (e *Extension) Version() *crc.VersionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Deactivate stops polling, removes the connection binding and lifecycle
// commands, and stops a daemon launched by Activate.
func (e *Extension) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return
	}

	e.opts.Tracker.StopStatusUpdate()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.opts.Binder.Dispose()
	if e.commands != nil {
		e.commands.Dispose()
		e.commands = nil
	}

	e.stopDaemon()

	e.active = false
	e.log.Info("CRC provider deactivated")
}

func (e *Extension) stopDaemon() {
	if e.daemon == nil {
		return
	}
	if err := e.daemon.Stop(daemonStopTimeout); err != nil {
		e.log.Debugf("CRC daemon exited: %v", err)
	}
	e.daemon = nil
}
