package crc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CLI runs the crc binary for operations the daemon API does not offer.
type CLI struct {
	binary string
	log    logrus.FieldLogger
}

// NewCLI creates a CLI runner. binary is a name looked up on PATH or an absolute path.
func NewCLI(binary string) *CLI {
	return &CLI{
		binary: binary,
		log:    logrus.WithField("component", "crc-cli"),
	}
}

// Binary returns the crc executable this runner invokes.
func (c *CLI) Binary() string {
	return c.binary
}

// SetupCheck runs "crc setup --check-only". A zero exit status means the host
// is already set up; a non-zero exit status means setup is required. Any other
// failure (binary missing, context cancelled) is returned as an error.
func (c *CLI) SetupCheck(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, c.binary, "setup", "--check-only")
	output, err := cmd.CombinedOutput()
	if err == nil {
		return false, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.log.Debugf("crc setup --check-only exited with %d:\n%s", exitErr.ExitCode(), string(output))
		return true, nil
	}
	return false, fmt.Errorf("failed to run %s setup --check-only: %w", c.binary, err)
}

// Setup runs "crc setup", writing its combined output to out as it is produced.
func (c *CLI) Setup(ctx context.Context, out io.Writer) error {
	c.log.Infof("Executing: %s setup", c.binary)

	cmd := exec.CommandContext(ctx, c.binary, "setup")
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("crc setup failed: %w", err)
	}
	return nil
}

// ConfigSet runs "crc config set <key> <value>".
func (c *CLI) ConfigSet(ctx context.Context, key, value string) error {
	cmd := exec.CommandContext(ctx, c.binary, "config", "set", key, value)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to set crc config %s: %w (output: %s)", key, err, strings.TrimSpace(string(output)))
	}
	return nil
}

type versionOutput struct {
	Version          string `json:"version"`
	Commit           string `json:"commit"`
	OpenshiftVersion string `json:"openshiftVersion"`
	PodmanVersion    string `json:"podmanVersion"`
}

// Version returns the version reported by "crc version -o json".
func (c *CLI) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "version", "-o", "json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to run %s version: %w (stderr: %s)", c.binary, err, strings.TrimSpace(stderr.String()))
	}

	var v versionOutput
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		return "", fmt.Errorf("failed to parse crc version output: %w", err)
	}
	if v.Version == "" {
		return "", errors.New("crc version output has no version")
	}
	return v.Version, nil
}

// DaemonProcess is a crc daemon launched by the provider.
type DaemonProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan error
}

// StartDaemon launches "crc daemon --watchdog". The watchdog makes the daemon
// exit once its stdin is closed, which Stop does; the daemon therefore never
// outlives the provider that launched it.
func (c *CLI) StartDaemon() (*DaemonProcess, error) {
	cmd := exec.Command(c.binary, "daemon", "--watchdog")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch crc daemon: %w", err)
	}
	c.log.Infof("Launched crc daemon (pid %d)", cmd.Process.Pid)

	p := &DaemonProcess{cmd: cmd, stdin: stdin, done: make(chan error, 1)}
	go func() {
		p.done <- cmd.Wait()
	}()
	return p, nil
}

// Stop closes the daemon's stdin and waits for it to exit, killing it after timeout.
func (p *DaemonProcess) Stop(timeout time.Duration) error {
	_ = p.stdin.Close()
	select {
	case err := <-p.done:
		return err
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		return <-p.done
	}
}
