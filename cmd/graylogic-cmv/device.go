package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
	"github.com/nerrad567/gray-logic-cmv/internal/entity"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cmv/internal/polling"
)

// sourceCLI tags actions issued from the command line in the audit trail.
const sourceCLI = "cli"

// probeResult is printed by the probe command.
type probeResult struct {
	DeviceID  string            `json:"device_id"`
	Address   string            `json:"address"`
	Connected bool              `json:"connected"`
	Name      string            `json:"name,omitempty"`
	Available bool              `json:"available"`
	Snapshot  *polling.Snapshot `json:"snapshot,omitempty"`
	Error     string            `json:"error,omitempty"`
	Stats     cmv.Stats         `json:"stats"`
}

func newProbeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Test the connection and print one snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			dc, err := flags.selectDevice(cfg)
			if err != nil {
				return err
			}
			client := newClient(dc, logging.Discard())
			return probe(cmd.Context(), client, cmd.OutOrStdout())
		},
	}
}

// probe checks the connection, runs one synchronous cycle and writes the
// result. A device that does not answer is reported, not returned as an error.
func probe(ctx context.Context, client *cmv.Client, w io.Writer) error {
	res := probeResult{DeviceID: client.ID(), Address: client.Address()}

	res.Connected = client.TestConnection(ctx)
	if res.Connected {
		res.Name, _ = client.QueryName(ctx)
	}

	poller := polling.New(client, polling.Options{})
	if err := poller.Refresh(ctx); err != nil {
		res.Error = err.Error()
	}
	if snap, ok := poller.Latest(); ok {
		res.Snapshot = &snap
	}
	res.Available = poller.Available()
	res.Stats = client.Stats()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("writing probe result: %w", err)
	}
	return nil
}

func newModeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "mode <mode>",
		Short:     "Set the operating mode (off, low, medium, high, highest, boost, night, cooling)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: modeNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := cmv.ParseMode(args[0])
			if err != nil {
				return err
			}
			return withUnit(cmd, flags, func(ctx context.Context, u *entity.Unit) error {
				fan := u.Fan()
				if mode.IsPreset() {
					return fan.SetPreset(ctx, string(mode))
				}
				pct, _ := mode.Percentage()
				return fan.SetPercentage(ctx, pct)
			})
		},
	}
}

func newLEDsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "leds <on|off>",
		Short:     "Switch the control panel LEDs",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUnit(cmd, flags, func(ctx context.Context, u *entity.Unit) error {
				if args[0] == "on" {
					return u.LEDs().TurnOn(ctx)
				}
				return u.LEDs().TurnOff(ctx)
			})
		},
	}
}

func newResetFiltersCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-filters",
		Short: "Reset the filter usage counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUnit(cmd, flags, func(ctx context.Context, u *entity.Unit) error {
				return u.FilterReset().Press(ctx)
			})
		},
	}
}

// withUnit builds a unit for the selected device, runs fn with the CLI
// audit source and reports "OK" on success. When the database is enabled
// the action is audited.
func withUnit(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *entity.Unit) error) error {
	ctx := cmd.Context()
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	dc, err := flags.selectDevice(cfg)
	if err != nil {
		return err
	}

	log := logging.Discard()
	db, repo, err := openAudit(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // short-lived command

	client := newClient(dc, log)
	opts := entity.Options{Logger: log}
	if repo != nil {
		opts.Recorder = repo
	}
	unit := entity.NewUnit(client, polling.New(client, polling.Options{}), opts)

	if err := fn(entity.WithSource(ctx, sourceCLI), unit); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

func modeNames() []string {
	names := make([]string, 0, len(cmv.FanLevels)+len(cmv.Presets)+1)
	names = append(names, string(cmv.ModeOff))
	for _, m := range cmv.FanLevels {
		names = append(names, string(m))
	}
	for _, m := range cmv.Presets {
		names = append(names, string(m))
	}
	return names
}
