// Package prereq provides the installation preflight for the CRC provider.
//
// It verifies that the crc binary is installed and meets the minimum version
// the provider supports. The podman client is checked as well but is
// optional: it is only needed to use the socket exposed by the Podman preset.
package prereq

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/meyrevived/crc-provider/internal/config"
)

// Statuses of a single prerequisite.
const (
	StatusOK       = "ok"
	StatusMissing  = "missing"
	StatusOutdated = "outdated"
	StatusUnknown  = "unknown"
)

// minPodmanVersion is the oldest podman client known to talk to the CRC podman socket.
const minPodmanVersion = "4.0.0"

// PrerequisiteResult represents the result of checking a single prerequisite.
// It contains the tool name, installation status, version information, and
// whether it meets the minimum requirement.
type PrerequisiteResult struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Version   string `json:"version"`
	Required  string `json:"required"`
	Optional  bool   `json:"optional"`
	Status    string `json:"status"` // "ok", "missing", "outdated", "unknown"
}

// CheckResult represents the overall result of all prerequisite checks.
// AllMet only considers required tools; problems with optional tools are
// listed in Warnings.
type CheckResult struct {
	Prerequisites map[string]PrerequisiteResult `json:"prerequisites"`
	AllMet        bool                          `json:"all_met"`
	Errors        []string                      `json:"errors,omitempty"`
	Warnings      []string                      `json:"warnings,omitempty"`
}

// Checker performs the preflight checks.
type Checker struct {
	config *config.Config
}

// NewChecker creates a new prerequisite checker with the provided configuration.
func NewChecker(cfg *config.Config) *Checker {
	return &Checker{
		config: cfg,
	}
}

type check struct {
	name         string
	command      string
	args         []string
	required     string
	versionRegex string
	optional     bool
}

// CheckAll runs all prerequisite checks and returns the aggregated results.
//
// It checks for:
//   - crc (minimum from the MinCrcVersion setting)
//   - podman (optional)
func (c *Checker) CheckAll(ctx context.Context) (*CheckResult, error) {
	if _, err := semver.NewVersion(c.config.MinCrcVersion); err != nil {
		return nil, fmt.Errorf("invalid minimum crc version %q: %w", c.config.MinCrcVersion, err)
	}

	result := &CheckResult{
		Prerequisites: make(map[string]PrerequisiteResult),
		AllMet:        true,
		Errors:        []string{},
	}

	checks := []check{
		{
			name:         "crc",
			command:      c.config.CrcBinary,
			args:         []string{"version"},
			required:     c.config.MinCrcVersion,
			versionRegex: `CRC version:\s*v?(\d+\.\d+\.\d+)`,
		},
		{
			name:         "podman",
			command:      "podman",
			args:         []string{"--version"},
			required:     minPodmanVersion,
			versionRegex: `(\d+\.\d+\.\d+)`,
			optional:     true,
		},
	}

	for _, ch := range checks {
		prereqResult := c.checkTool(ctx, ch.name, ch.command, ch.args, ch.required, ch.versionRegex)
		prereqResult.Optional = ch.optional
		result.Prerequisites[ch.name] = prereqResult

		if prereqResult.Status == StatusOK {
			continue
		}

		msg := problem(prereqResult)
		if ch.optional {
			result.Warnings = append(result.Warnings, msg)
			continue
		}
		result.AllMet = false
		result.Errors = append(result.Errors, msg)
	}

	return result, nil
}

func problem(r PrerequisiteResult) string {
	switch r.Status {
	case StatusMissing:
		return r.Name + " is not installed"
	case StatusOutdated:
		return fmt.Sprintf("%s version %s is below minimum requirement %s", r.Name, r.Version, r.Required)
	default:
		return fmt.Sprintf("%s version could not be determined", r.Name)
	}
}

// checkTool checks if a specific tool is installed and meets version requirements.
// It executes the tool's version command, extracts the version using regex, and
// compares it against the minimum required version.
//
// Returns a PrerequisiteResult with status:
//   - "ok" if tool is installed and version meets requirement
//   - "missing" if tool is not found in PATH
//   - "outdated" if tool version is below requirement
//   - "unknown" if version cannot be determined
func (c *Checker) checkTool(ctx context.Context, name, command string, args []string, requiredVersion, versionRegex string) PrerequisiteResult {
	result := PrerequisiteResult{
		Name:      name,
		Installed: false,
		Version:   "Not Found",
		Required:  requiredVersion,
		Status:    StatusMissing,
	}

	if _, err := exec.LookPath(command); err != nil {
		return result
	}

	result.Installed = true

	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		result.Status = StatusUnknown
		result.Version = "Unknown"
		return result
	}

	version := extractVersion(string(output), versionRegex)
	if version == "" {
		result.Status = StatusUnknown
		result.Version = "Unknown"
		return result
	}

	result.Version = version

	ok, err := meetsMinimum(version, requiredVersion)
	switch {
	case err != nil:
		result.Status = StatusUnknown
	case ok:
		result.Status = StatusOK
	default:
		result.Status = StatusOutdated
	}

	return result
}

// extractVersion extracts a version string from command output using a regex pattern.
// It looks for the first capture group in the regex match.
// Returns an empty string if no match is found.
func extractVersion(output, pattern string) string {
	re := regexp.MustCompile(pattern)
	matches := re.FindStringSubmatch(output)
	if len(matches) > 1 {
		return matches[1]
	}
	return ""
}

// meetsMinimum reports whether version >= minimum. Pre-release and build
// metadata on version are ignored, so "2.45.0+1d2a3b" satisfies "2.45.0".
func meetsMinimum(version, minimum string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}
	m, err := semver.NewVersion(minimum)
	if err != nil {
		return false, err
	}

	core, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()))
	if err != nil {
		return false, err
	}
	return !core.LessThan(m), nil
}
