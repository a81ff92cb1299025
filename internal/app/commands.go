package app

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gajzzs/garmind/internal/config"
	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/service"
	"github.com/gajzzs/garmind/internal/session"
)

func NewScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "scan [usb|bluetooth]",
		Short:     "Discover attached and nearby Garmin devices",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"usb", "bluetooth"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []device.Kind{device.KindUSB, device.KindBluetooth}
			if len(args) == 1 {
				k, err := device.ParseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []device.Kind{k}
			}

			r, err := buildRuntime(session.Options{})
			if err != nil {
				return err
			}
			defer r.close()

			out := cmd.OutOrStdout()
			found := 0
			for _, k := range kinds {
				for d, err := range r.coord.Scan(cmd.Context(), k) {
					if err != nil {
						// one missing subsystem should not hide the other
						if len(kinds) > 1 && device.IsReason(err, device.ReasonSubsystemUnavailable, device.ReasonNoAdapter) {
							fmt.Fprintf(out, "%s: %v\n", k, err)
							break
						}
						return err
					}
					found++
					fmt.Fprintf(out, "%-9s  %-24s  %s\n", d.Kind, d.ID, d.DisplayName)
				}
			}
			if found == 0 {
				fmt.Fprintln(out, "No Garmin devices found")
			}
			return nil
		},
	}
}

func NewSyncCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "sync [device-id]",
		Short: "Mount a device, archive its FIT files and unmount it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var opts session.Options
			if verbose {
				opts.OnTransition = func(id string, from, to session.State) {
					fmt.Fprintf(out, "  %s -> %s\n", from, to)
				}
			}
			r, err := buildRuntime(opts)
			if err != nil {
				return err
			}
			defer r.shutdown()

			res, err := service.Sync(cmd.Context(), r.coord, args[0], r.cfg.Extract.ArchiveDir, r.log)
			if err != nil {
				return err
			}
			if res.Files == 0 {
				fmt.Fprintln(out, "No FIT files on device")
				return nil
			}
			fmt.Fprintf(out, "%d FIT files: %d copied, %d already archived\n", res.Files, res.Copied, res.Skipped)
			fmt.Fprintf(out, "Archive: %s\n", res.ArchiveDir)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every state change")
	return cmd
}

func NewPairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pair [address]",
		Short: "Pair with a Garmin device over Bluetooth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bluetoothAddress(args[0])
			if err != nil {
				return err
			}

			r, err := buildRuntime(session.Options{})
			if err != nil {
				return err
			}
			// the pairing outlives this process, so sessions are not released
			defer r.close()

			snap, err := r.coord.Connect(cmd.Context(), id)
			if err != nil {
				return err
			}
			if snap.Device.Kind != device.KindBluetooth {
				if err := r.coord.Disconnect(cmd.Context(), id); err != nil {
					r.log.Warn().Err(err).Str("device_id", id).Msg("Release failed")
				}
				return fmt.Errorf("%s is not a Bluetooth device", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paired with %s (%s)\n", snap.Device.DisplayName, snap.PairingPath)
			return nil
		},
	}
}

// bluetoothAddress normalises a colon-separated 48-bit address to the
// upper-case form Bluetooth descriptor ids use.
func bluetoothAddress(s string) (string, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 || strings.Count(s, ":") != 5 {
		return "", fmt.Errorf("%q is not a Bluetooth address (want XX:XX:XX:XX:XX:XX)", s)
	}
	return strings.ToUpper(hw.String()), nil
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the garmind configuration file",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := config.Save(config.ConfigFile, config.Default()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", config.ConfigFile)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(config.ConfigFile)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Config file:   %s\n", config.ConfigFile)
				fmt.Fprintf(out, "USB vendor:    %s\n", cfg.USB.VendorID)
				fmt.Fprintf(out, "Mount root:    %s\n", cfg.USB.MountRoot)
				fmt.Fprintf(out, "Scan window:   %s\n", cfg.Bluetooth.ScanWindow)
				fmt.Fprintf(out, "Retries:       %d (base %s, max %s)\n", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
				fmt.Fprintf(out, "Extension:     %s\n", cfg.Extract.Extension)
				fmt.Fprintf(out, "Archive:       %s\n", cfg.Extract.ArchiveDir)
				return nil
			},
		},
	)
	return cmd
}
