package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/host"
)

const defaultFetchTimeout = 10 * time.Second

// DaemonClient abstracts the daemon status call.
//
// This interface allows the Tracker to be tested without a running daemon.
type DaemonClient interface {
	Status(ctx context.Context) (*crc.StatusInfo, error)
}

// TrackerConfig holds configuration for creating a Tracker.
type TrackerConfig struct {
	Client       DaemonClient
	PollInterval time.Duration
	// FetchTimeout bounds a single status call; defaults to 10s
	FetchTimeout time.Duration
}

// Tracker holds the latest known cluster status.
//
// Readers never block on the daemon: Status, ProviderStatus and
// ConnectionStatus return the cached Snapshot. Updates (polls, transitions,
// the setup-running flag) are serialized, and subscribers are called once
// per update that visibly changed the Snapshot. Subscribers run on the
// updating goroutine and must not call Refresh or ClearTransition.
type Tracker struct {
	mu sync.RWMutex

	snapshot    Snapshot
	transition  crc.ClusterStatus
	subscribers map[int]func(Snapshot)
	nextSubID   int

	// updateMu serializes every update and the notifications it produces
	updateMu sync.Mutex

	pollMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	client       DaemonClient
	interval     time.Duration
	fetchTimeout time.Duration
	log          logrus.FieldLogger
}

// NewTracker creates a Tracker. The initial status is Unknown until Initialize
// or the first poll completes.
func NewTracker(config *TrackerConfig) (*Tracker, error) {
	if config.Client == nil {
		return nil, errors.New("DaemonClient is required")
	}
	if config.PollInterval <= 0 {
		return nil, errors.New("PollInterval must be positive")
	}

	fetchTimeout := config.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	return &Tracker{
		snapshot: Snapshot{
			SessionID: uuid.New().String(),
			Status:    crc.StatusUnknown,
			Preset:    crc.DefaultPreset,
			UpdatedAt: time.Now(),
		},
		subscribers:  make(map[int]func(Snapshot)),
		client:       config.Client,
		interval:     config.PollInterval,
		fetchTimeout: fetchTimeout,
		log:          logrus.WithField("component", "tracker"),
	}, nil
}

// Initialize performs one synchronous status fetch so that consumers see the
// daemon's status before polling starts.
func (t *Tracker) Initialize(ctx context.Context) Snapshot {
	t.Refresh(ctx)
	return t.Status()
}

// StartStatusUpdate starts polling. Calling it while polling is a no-op.
func (t *Tracker) StartStatusUpdate(ctx context.Context) {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	if t.cancel != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		t.log.Debugf("Status polling started (every %s)", t.interval)
		wait.UntilWithContext(pollCtx, func(ctx context.Context) {
			t.Refresh(ctx)
		}, t.interval)
		t.log.Debug("Status polling stopped")
	}()
}

// StopStatusUpdate stops polling and waits for the poller to exit.
// Calling it while not polling is a no-op.
func (t *Tracker) StopStatusUpdate() {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
}

// Polling reports whether the poller is running.
func (t *Tracker) Polling() bool {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()
	return t.cancel != nil
}

// Refresh fetches the status once and notifies subscribers if it changed.
// A failed fetch is not an error: the daemon is reported unreachable with no cluster.
func (t *Tracker) Refresh(ctx context.Context) bool {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()

	next := t.fetch(ctx)

	return t.update(func(s *Snapshot) {
		next.SessionID = s.SessionID
		next.SetupRunning = s.SetupRunning
		if t.transition != "" {
			next.Status = t.transition
			next.InTransition = true
		}
		*s = next
	})
}

func (t *Tracker) fetch(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	info, err := t.client.Status(ctx)
	if err != nil {
		t.mu.RLock()
		wasReachable := t.snapshot.DaemonReachable
		t.mu.RUnlock()
		if wasReachable {
			t.log.Warnf("WARNING: Failed to get CRC status: %v", err)
		} else {
			t.log.Debugf("Failed to get CRC status: %v", err)
		}

		return Snapshot{
			Status:          crc.StatusNoCluster,
			Preset:          crc.DefaultPreset,
			DaemonReachable: false,
		}
	}

	return Snapshot{
		Status:           info.ClusterStatus(),
		Raw:              info.CrcStatus,
		Preset:           crc.ParsePreset(info.Preset),
		OpenshiftStatus:  info.OpenshiftStatus,
		OpenshiftVersion: info.OpenshiftVersion,
		PodmanVersion:    info.PodmanVersion,
		DiskUse:          info.DiskUse,
		DiskSize:         info.DiskSize,
		RAMUse:           info.RAMUse,
		RAMSize:          info.RAMSize,
		DaemonReachable:  true,
	}
}

// update applies mutate under the lock and notifies subscribers outside it.
// The caller must hold updateMu.
func (t *Tracker) update(mutate func(s *Snapshot)) bool {
	t.mu.Lock()
	prev := t.snapshot
	next := prev
	mutate(&next)
	changed := prev.differs(next)
	if changed {
		next.UpdatedAt = time.Now()
	} else {
		next.UpdatedAt = prev.UpdatedAt
	}
	t.snapshot = next

	var subs []func(Snapshot)
	if changed {
		subs = make([]func(Snapshot), 0, len(t.subscribers))
		for _, fn := range t.subscribers {
			subs = append(subs, fn)
		}
	}
	t.mu.Unlock()

	if changed {
		t.log.Debugf("Status changed: %s (preset %s, reachable %t)", next.Status, next.Preset, next.DaemonReachable)
		for _, fn := range subs {
			fn(next)
		}
	}
	return changed
}

// SetTransition pins the visible status (Starting or Stopping) until
// ClearTransition. Polls keep updating every other field meanwhile.
func (t *Tracker) SetTransition(status crc.ClusterStatus) {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()

	t.mu.Lock()
	t.transition = status
	t.mu.Unlock()

	t.update(func(s *Snapshot) {
		s.Status = status
		s.InTransition = true
	})
}

// ClearTransition unpins the status and refreshes it from the daemon.
func (t *Tracker) ClearTransition(ctx context.Context) {
	t.mu.Lock()
	t.transition = ""
	t.mu.Unlock()

	t.Refresh(ctx)
}

// SetSetupRunning marks setup as in progress; status readers report it while set.
func (t *Tracker) SetSetupRunning(running bool) {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()

	t.update(func(s *Snapshot) {
		s.SetupRunning = running
	})
}

// SetupRunning reports whether setup is in progress.
func (t *Tracker) SetupRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.SetupRunning
}

// Status returns a copy of the current Snapshot.
func (t *Tracker) Status() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// ProviderStatus maps the current status to the provider vocabulary.
func (t *Tracker) ProviderStatus() host.ProviderStatus {
	s := t.Status()
	return ProviderStatusFor(s.Status, s.SetupRunning)
}

// ConnectionStatus maps the current status to the connection vocabulary.
func (t *Tracker) ConnectionStatus() host.ConnectionStatus {
	s := t.Status()
	return ConnectionStatusFor(s.Status, s.SetupRunning)
}

// OnStatusChange registers handler for status changes and returns a function
// removing it.
func (t *Tracker) OnStatusChange(handler func(Snapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}
