// Package config provides configuration management for the CRC provider.
//
// Configuration is read from an optional YAML file (CRC_PROVIDER_CONFIG) and then
// overridden by environment variables. Every path has a default derived from the
// user's home directory, so a standard CRC installation needs no configuration at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultListenAddr      = "localhost:8766"
	defaultPollInterval    = 2500 * time.Millisecond
	defaultRequestTimeout  = 20 * time.Minute
	defaultKubeAPIEndpoint = "https://api.crc.testing:6443"
	defaultMinCrcVersion   = "2.30.0"
	defaultLogLevel        = "info"

	windowsPodmanPipe = `\\.\pipe\crc-podman`
)

// Config holds all environment-dependent paths and settings required
// by the CRC provider.
type Config struct {
	// CrcBinary is the crc executable, either a bare name looked up on PATH or an absolute path
	CrcBinary string `yaml:"crcBinary"`

	// CrcHome is the CRC state directory (~/.crc)
	CrcHome string `yaml:"crcHome"`

	// DaemonSocket is the unix socket the CRC daemon serves its HTTP API on
	DaemonSocket string `yaml:"daemonSocket"`

	// ListenAddr is where the provider serves its own HTTP API
	ListenAddr string `yaml:"listenAddr"`

	PollInterval   time.Duration `yaml:"pollInterval"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// KubeAPIEndpoint is the fixed API server address exposed for the openshift/microshift presets
	KubeAPIEndpoint string `yaml:"kubeAPIEndpoint"`
	KubeconfigPath  string `yaml:"kubeconfigPath"`

	// AutoStartDaemon launches "crc daemon" during activation when it is not reachable
	AutoStartDaemon bool `yaml:"autoStartDaemon"`

	MinCrcVersion string `yaml:"minCrcVersion"`
	LogLevel      string `yaml:"logLevel"`
}

// LoadConfig reads the optional config file and environment variables and
// constructs the Config struct.
//
// Environment variables (all optional):
//   - CRC_PROVIDER_CONFIG: path to a YAML file with defaults
//   - CRC_BINARY, CRC_HOME, CRC_DAEMON_SOCKET, CRC_KUBE_API, CRC_KUBECONFIG
//   - CRC_PROVIDER_LISTEN, CRC_PROVIDER_POLL_INTERVAL, CRC_PROVIDER_REQUEST_TIMEOUT
//   - CRC_PROVIDER_AUTOSTART, CRC_MIN_VERSION, CRC_PROVIDER_LOG_LEVEL
func LoadConfig() (*Config, error) {
	cfg := &Config{AutoStartDaemon: true}

	if path := os.Getenv("CRC_PROVIDER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	stringVars := map[string]*string{
		"CRC_BINARY":             &c.CrcBinary,
		"CRC_HOME":               &c.CrcHome,
		"CRC_DAEMON_SOCKET":      &c.DaemonSocket,
		"CRC_KUBE_API":           &c.KubeAPIEndpoint,
		"CRC_KUBECONFIG":         &c.KubeconfigPath,
		"CRC_PROVIDER_LISTEN":    &c.ListenAddr,
		"CRC_MIN_VERSION":        &c.MinCrcVersion,
		"CRC_PROVIDER_LOG_LEVEL": &c.LogLevel,
	}
	for name, field := range stringVars {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	durationVars := map[string]*time.Duration{
		"CRC_PROVIDER_POLL_INTERVAL":   &c.PollInterval,
		"CRC_PROVIDER_REQUEST_TIMEOUT": &c.RequestTimeout,
	}
	for name, field := range durationVars {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		*field = d
	}

	switch os.Getenv("CRC_PROVIDER_AUTOSTART") {
	case "":
	case "1", "true", "yes":
		c.AutoStartDaemon = true
	case "0", "false", "no":
		c.AutoStartDaemon = false
	default:
		return fmt.Errorf("invalid CRC_PROVIDER_AUTOSTART %q", os.Getenv("CRC_PROVIDER_AUTOSTART"))
	}

	return nil
}

func (c *Config) applyDefaults() error {
	if c.CrcHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to determine home directory: %w", err)
		}
		c.CrcHome = filepath.Join(home, ".crc")
	}
	if c.CrcBinary == "" {
		c.CrcBinary = "crc"
	}
	if c.DaemonSocket == "" {
		c.DaemonSocket = filepath.Join(c.CrcHome, "crc-http.sock")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.KubeAPIEndpoint == "" {
		c.KubeAPIEndpoint = defaultKubeAPIEndpoint
	}
	if c.KubeconfigPath == "" {
		c.KubeconfigPath = filepath.Join(c.MachineDir(), "kubeconfig")
	}
	if c.MinCrcVersion == "" {
		c.MinCrcVersion = defaultMinCrcVersion
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	return nil
}

// Validate checks that the settings are usable. Paths are not required to
// exist: CRC may not have been set up yet.
func (c *Config) Validate() error {
	if c.CrcHome == "" {
		return errors.New("CRC_HOME must not be empty")
	}
	if !filepath.IsAbs(c.CrcHome) {
		return fmt.Errorf("CRC_HOME must be an absolute path: %s", c.CrcHome)
	}
	if c.DaemonSocket == "" {
		return errors.New("CRC_DAEMON_SOCKET must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// MachineDir returns the directory holding the CRC virtual machine files.
func (c *Config) MachineDir() string {
	return filepath.Join(c.CrcHome, "machines", "crc")
}

// CrcConfigFile returns the path of crc's own configuration file, which holds the preset.
func (c *Config) CrcConfigFile() string {
	return filepath.Join(c.CrcHome, "crc.json")
}

// PodmanSocketPath returns the container-engine socket exposed by the podman preset.
func (c *Config) PodmanSocketPath() string {
	return podmanSocketPath(runtime.GOOS, c.MachineDir())
}

func podmanSocketPath(goos, machineDir string) string {
	if goos == "windows" {
		return windowsPodmanPipe
	}
	return filepath.Join(machineDir, "docker.sock")
}
