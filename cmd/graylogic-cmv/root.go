package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/config"
)

// defaultConfigPath is used when neither --config nor GRAYLOGIC_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	deviceID   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "graylogic-cmv",
		Short: "Helty Flow CMV bridge",
		Long: `graylogic-cmv polls Helty Flow CMV units and exposes them over MQTT,
an HTTP/WebSocket API and Prometheus metrics.

Without a subcommand it runs the bridge (same as "serve").`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	root.SetVersionTemplate(versionLine() + "\n")

	root.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Config file path (env: GRAYLOGIC_CONFIG, default: "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&flags.deviceID, "device", "",
		"Device host for device commands (default: the only configured device)")

	root.AddCommand(
		newServeCmd(flags),
		newProbeCmd(flags),
		newModeCmd(flags),
		newLEDsCmd(flags),
		newResetFiltersCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionLine())
		},
	}
}

func versionLine() string {
	return fmt.Sprintf("graylogic-cmv %s (commit %s, built %s)", version, commit, date)
}

// resolveConfigPath returns --config, then GRAYLOGIC_CONFIG, then the default.
func (f *globalFlags) resolveConfigPath() string {
	if f.configPath != "" {
		return f.configPath
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	path := f.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// selectDevice picks the device named by --device, or the only one.
func (f *globalFlags) selectDevice(cfg *config.Config) (config.DeviceConfig, error) {
	if f.deviceID != "" {
		dev, ok := cfg.FindDevice(f.deviceID)
		if !ok {
			return config.DeviceConfig{}, fmt.Errorf("device %q is not configured", f.deviceID)
		}
		return dev, nil
	}
	if len(cfg.Devices) != 1 {
		return config.DeviceConfig{}, fmt.Errorf("%d devices configured, choose one with --device", len(cfg.Devices))
	}
	return cfg.Devices[0], nil
}
