// Package prompt asks the user for the inputs a lifecycle operation cannot
// proceed without: the pull secret, the preset, and destructive-action
// confirmation.
package prompt

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/meyrevived/crc-provider/internal/crc"
)

// ErrNoInput is returned when the user cancels a prompt or no input can be collected.
var ErrNoInput = errors.New("no input provided")

// Prompter collects user input.
type Prompter interface {
	// PullSecret asks for the pull secret text. The input is never echoed.
	PullSecret(ctx context.Context) (string, error)
	// SelectPreset asks which preset to use, offering current as the default.
	SelectPreset(ctx context.Context, current crc.Preset) (crc.Preset, error)
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title string) (bool, error)
}

// TerminalPrompter prompts on the controlling terminal.
type TerminalPrompter struct {
	isTerminal func() bool
}

// NewTerminalPrompter creates a prompter that refuses to prompt when stdin is
// not a terminal.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		isTerminal: func() bool {
			fd := os.Stdin.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
	}
}

func (p *TerminalPrompter) run(ctx context.Context, form *huh.Form) error {
	if !p.isTerminal() {
		return ErrNoInput
	}
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrNoInput
		}
		return err
	}
	return nil
}

func (p *TerminalPrompter) PullSecret(ctx context.Context) (string, error) {
	var secret string
	err := p.run(ctx, huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Pull Secret").
				Description("Paste the pull secret from https://console.redhat.com/openshift/create/local").
				EchoMode(huh.EchoModePassword).
				Value(&secret),
		).Title("CRC needs a pull secret to start the cluster"),
	))
	if err != nil {
		return "", err
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", ErrNoInput
	}
	return secret, nil
}

func (p *TerminalPrompter) SelectPreset(ctx context.Context, current crc.Preset) (crc.Preset, error) {
	options := make([]huh.Option[crc.Preset], 0, len(crc.Presets))
	for _, preset := range crc.Presets {
		options = append(options, huh.NewOption(preset.DisplayName(), preset))
	}

	selected := current
	err := p.run(ctx, huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[crc.Preset]().
				Title("Preset").
				Description("Which cluster flavor should CRC run?").
				Options(options...).
				Value(&selected),
		),
	))
	if err != nil {
		return current, err
	}
	return selected, nil
}

func (p *TerminalPrompter) Confirm(ctx context.Context, title string) (bool, error) {
	var confirmed bool
	err := p.run(ctx, huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	))
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

// StaticPrompter answers from values supplied up front, for callers that
// collect input outside the terminal (the HTTP API). The pull secret is
// handed out once; later requests get ErrNoInput so a retry loop cannot spin
// on the same rejected secret.
type StaticPrompter struct {
	mu     sync.Mutex
	secret string
	used   bool

	Preset    crc.Preset
	Confirmed bool
}

// NewStaticPrompter creates a prompter answering PullSecret with secret once.
// An empty secret means no secret is available.
func NewStaticPrompter(secret string) *StaticPrompter {
	return &StaticPrompter{secret: strings.TrimSpace(secret)}
}

func (p *StaticPrompter) PullSecret(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used || p.secret == "" {
		return "", ErrNoInput
	}
	p.used = true
	return p.secret, nil
}

func (p *StaticPrompter) SelectPreset(ctx context.Context, current crc.Preset) (crc.Preset, error) {
	if p.Preset == "" {
		return current, nil
	}
	return p.Preset, nil
}

func (p *StaticPrompter) Confirm(ctx context.Context, title string) (bool, error) {
	return p.Confirmed, nil
}
