package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bombsimon/logrusr/v2"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/meyrevived/crc-provider/internal/config"
	"github.com/meyrevived/crc-provider/internal/crc"
	"github.com/meyrevived/crc-provider/internal/daemon/state"
	"github.com/meyrevived/crc-provider/internal/host"
	"github.com/meyrevived/crc-provider/internal/prompt"
)

// errAborted is returned when the user declines a confirmation.
var errAborted = errors.New("aborted")

type rootOptions struct {
	logLevel string
	cfg      *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "crc-provider",
		Short:         "Manage a local CodeReady Containers cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			if err := setLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides CRC_PROVIDER_LOG_LEVEL")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newStopCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newSetupCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newPresetCommand(opts))

	return cmd
}

func commandLogger() logr.Logger {
	return logrusr.New(logrus.StandardLogger())
}

// connect wires the provider and loads the current daemon state. The daemon
// must be reachable.
func (o *rootOptions) connect(ctx context.Context, prompter prompt.Prompter) (*provider, error) {
	p, err := newProvider(o.cfg, prompter)
	if err != nil {
		return nil, err
	}

	version, err := p.client.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("CRC daemon is not reachable at %s (is \"crc daemon\" running?): %w", o.cfg.DaemonSocket, err)
	}
	p.binder.SetCrcVersion(version.CrcVersion)
	p.registry.UpdateVersion(version.CrcVersion)

	p.tracker.Initialize(ctx)
	if _, err := p.setup.NeedSetup(ctx); err != nil {
		logrus.Warnf("WARNING: Could not determine whether CRC needs setup: %v", err)
	}
	return p, nil
}

func newStartCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the cluster, running setup first when the host needs it",
		Long: `Start runs "crc setup" when the host is not set up yet and then starts
the cluster. When CRC has no pull secret the command asks for one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.connect(cmd.Context(), prompt.NewTerminalPrompter())
			if err != nil {
				return err
			}
			if err := p.manager.InitializeCluster(cmd.Context(), commandLogger()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "CRC is %s\n", p.registry.Status())
			return nil
		},
	}
}

func newStopCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the cluster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.connect(cmd.Context(), prompt.NewTerminalPrompter())
			if err != nil {
				return err
			}
			if err := p.manager.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "CRC is %s\n", p.registry.Status())
			return nil
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the cluster",
		Long: `Delete removes the cluster virtual machine and its disk.

WARNING: This operation is irreversible. All cluster data will be lost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompter := prompt.NewTerminalPrompter()
			p, err := opts.connect(cmd.Context(), prompter)
			if err != nil {
				return err
			}
			if err := confirmDelete(cmd.Context(), prompter, yes); err != nil {
				return err
			}
			if err := p.manager.Delete(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "CRC cluster deleted")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking for confirmation")

	return cmd
}

func confirmDelete(ctx context.Context, prompter prompt.Prompter, yes bool) error {
	if yes {
		return nil
	}
	confirmed, err := prompter.Confirm(ctx, "Delete the CRC cluster? All cluster data will be lost.")
	if err != nil {
		if errors.Is(err, prompt.ErrNoInput) {
			return fmt.Errorf("%w: pass --yes to delete without a terminal", errAborted)
		}
		return err
	}
	if !confirmed {
		return errAborted
	}
	return nil
}

func newSetupCommand(opts *rootOptions) *cobra.Command {
	var presetName string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Prepare the host to run CRC",
		Long: `Setup runs "crc setup" with the chosen preset. Without --preset the
preset is asked for on the terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var prompter prompt.Prompter = prompt.NewTerminalPrompter()
			if presetName != "" {
				preset, err := parsePresetArg(presetName)
				if err != nil {
					return err
				}
				static := prompt.NewStaticPrompter("")
				static.Preset = preset
				prompter = static
			}

			// the daemon may not exist before setup
			p, err := newProvider(opts.cfg, prompter)
			if err != nil {
				return err
			}
			if _, err := p.setup.SetUpCrc(cmd.Context(), commandLogger(), true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "CRC setup completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&presetName, "preset", "", "Preset to set up: "+presetList())

	return cmd
}

// statusView is the output of the status command.
type statusView struct {
	Cluster          state.Snapshot        `json:"cluster"`
	ProviderStatus   host.ProviderStatus   `json:"provider_status"`
	ConnectionStatus host.ConnectionStatus `json:"connection_status"`
	CrcVersion       string                `json:"crc_version,omitempty"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the cluster status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newProvider(opts.cfg, prompt.NewStaticPrompter(""))
			if err != nil {
				return err
			}

			view := statusView{Cluster: p.tracker.Initialize(cmd.Context())}
			view.ProviderStatus = p.tracker.ProviderStatus()
			view.ConnectionStatus = p.tracker.ConnectionStatus()
			if version, err := p.client.Version(cmd.Context()); err == nil {
				view.CrcVersion = version.CrcVersion
			}

			return printStatus(cmd.OutOrStdout(), view, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json, or yaml")

	return cmd
}

func printStatus(w io.Writer, view statusView, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml":
		// go through JSON so the keys match the API
		data, err := json.Marshal(view)
		if err != nil {
			return err
		}
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "text", "":
		status := string(view.Cluster.Status)
		if view.Cluster.Raw != "" && view.Cluster.Raw != status {
			status = fmt.Sprintf("%s (%s)", status, view.Cluster.Raw)
		}
		daemon := "reachable"
		if !view.Cluster.DaemonReachable {
			daemon = "not reachable"
		}
		fmt.Fprintf(w, "CRC:        %s\n", status)
		fmt.Fprintf(w, "Preset:     %s\n", view.Cluster.Preset.DisplayName())
		fmt.Fprintf(w, "Provider:   %s\n", view.ProviderStatus)
		fmt.Fprintf(w, "Connection: %s\n", view.ConnectionStatus)
		fmt.Fprintf(w, "Daemon:     %s\n", daemon)
		if view.CrcVersion != "" {
			fmt.Fprintf(w, "Version:    %s\n", view.CrcVersion)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func newPresetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preset [name]",
		Short: "Show or change the configured preset",
		Long: `Without arguments, preset prints the preset CRC is configured with.
With a name, it runs "crc config set preset <name>". Valid presets: ` + presetList() + `.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newProvider(opts.cfg, prompt.NewStaticPrompter(""))
			if err != nil {
				return err
			}

			if len(args) == 1 {
				preset, err := parsePresetArg(args[0])
				if err != nil {
					return err
				}
				if err := p.cli.ConfigSet(cmd.Context(), "preset", string(preset)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preset set to %s\n", preset.DisplayName())
				return nil
			}

			configuration, err := p.client.ConfigGet(cmd.Context())
			if err != nil {
				logrus.Warnf("WARNING: Could not read the CRC configuration, assuming %s: %v", crc.DefaultPreset, err)
				fmt.Fprintln(cmd.OutOrStdout(), crc.DefaultPreset)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), configuration.Preset())
			return nil
		},
	}
}

// parsePresetArg accepts only the known presets; crc.ParsePreset would fall
// back to the default for a typo.
func parsePresetArg(name string) (crc.Preset, error) {
	for _, preset := range crc.Presets {
		if strings.EqualFold(name, string(preset)) {
			return preset, nil
		}
	}
	return "", fmt.Errorf("unknown preset %q, expected one of %s", name, presetList())
}

func presetList() string {
	names := make([]string, 0, len(crc.Presets))
	for _, preset := range crc.Presets {
		names = append(names, string(preset))
	}
	return strings.Join(names, ", ")
}
