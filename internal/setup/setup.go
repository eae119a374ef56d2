// Package setup runs CRC's one-time host setup and caches whether it is needed.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"

	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/prompt"
)

var (
	// ErrSetupFailed is returned when "crc setup" fails or leaves the host unready.
	ErrSetupFailed = errors.New("crc setup failed")
	// ErrSetupInProgress is returned when setup is already running.
	ErrSetupInProgress = errors.New("crc setup is already running")
)

// CLI is the subset of the crc command line used by the Coordinator.
type CLI interface {
	SetupCheck(ctx context.Context) (bool, error)
	Setup(ctx context.Context, out io.Writer) error
	ConfigSet(ctx context.Context, key, value string) error
}

// ConfigReader reads the daemon configuration.
type ConfigReader interface {
	ConfigGet(ctx context.Context) (*crc.Configuration, error)
}

// RunningFlag records whether setup is in progress.
type RunningFlag interface {
	SetSetupRunning(running bool)
}

// Coordinator decides whether setup is needed and runs it.
type Coordinator struct {
	cli      CLI
	config   ConfigReader
	running  RunningFlag
	prompter prompt.Prompter

	mu        sync.RWMutex
	needSetup bool

	// runMu allows a single setup at a time
	runMu sync.Mutex

	log logrus.FieldLogger
}

// NewCoordinator creates a Coordinator. config, running and prompter may be nil:
// without config the current preset is assumed to be the default, without
// running nothing is told about setup progress, and without prompter
// interactive setup skips the preset question.
func NewCoordinator(cli CLI, config ConfigReader, running RunningFlag, prompter prompt.Prompter) *Coordinator {
	return &Coordinator{
		cli:      cli,
		config:   config,
		running:  running,
		prompter: prompter,
		log:      logrus.WithField("component", "setup"),
	}
}

// NeedSetup checks whether setup is required and caches the answer.
// When the check cannot run the cached flag is left as it was.
func (c *Coordinator) NeedSetup(ctx context.Context) (bool, error) {
	need, err := c.cli.SetupCheck(ctx)
	if err != nil {
		return c.IsNeedSetup(), fmt.Errorf("failed to check crc setup: %w", err)
	}

	c.mu.Lock()
	c.needSetup = need
	c.mu.Unlock()

	c.log.Debugf("Setup required: %t", need)
	return need, nil
}

// IsNeedSetup returns the cached flag.
func (c *Coordinator) IsNeedSetup() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.needSetup
}

func (c *Coordinator) markNeedSetup() {
	c.mu.Lock()
	c.needSetup = true
	c.mu.Unlock()
}

// SetUpCrc runs "crc setup", streaming its output to logger, and reports
// whether the host is ready afterwards. When interactive, the user is first
// asked for the preset. The setup-required flag is only cleared by a
// successful re-check, so a setup that fails partway is retried next time.
func (c *Coordinator) SetUpCrc(ctx context.Context, logger logr.Logger, interactive bool) (bool, error) {
	if !c.runMu.TryLock() {
		return false, ErrSetupInProgress
	}
	defer c.runMu.Unlock()

	if c.running != nil {
		c.running.SetSetupRunning(true)
		defer c.running.SetSetupRunning(false)
	}

	if interactive {
		c.choosePreset(ctx, logger)
	}

	c.log.Info("Running crc setup")
	out := newLineWriter(func(line string) {
		logger.Info(line)
	})
	err := c.cli.Setup(ctx, out)
	out.Flush()
	if err != nil {
		c.markNeedSetup()
		return false, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	need, err := c.NeedSetup(ctx)
	if err != nil {
		c.markNeedSetup()
		return false, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	if need {
		return false, fmt.Errorf("%w: host still needs setup after crc setup", ErrSetupFailed)
	}

	c.log.Info("crc setup completed")
	return true, nil
}

// choosePreset asks for the preset and applies it. Failures keep the current preset.
func (c *Coordinator) choosePreset(ctx context.Context, logger logr.Logger) {
	if c.prompter == nil {
		return
	}

	current := crc.DefaultPreset
	if c.config != nil {
		if cfg, err := c.config.ConfigGet(ctx); err == nil {
			current = cfg.Preset()
		} else {
			c.log.Debugf("Could not read the current preset: %v", err)
		}
	}

	selected, err := c.prompter.SelectPreset(ctx, current)
	if err != nil {
		if !errors.Is(err, prompt.ErrNoInput) {
			c.log.Warnf("WARNING: Preset selection failed: %v", err)
		}
		return
	}
	if selected == current {
		return
	}

	if err := c.cli.ConfigSet(ctx, "preset", string(selected)); err != nil {
		c.log.Warnf("WARNING: Failed to set preset %s: %v", selected, err)
		return
	}
	logger.Info("Preset selected", "preset", selected)
}
