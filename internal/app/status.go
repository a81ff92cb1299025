package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/service"
	"github.com/gajzzs/garmind/internal/session"
	"github.com/gajzzs/garmind/internal/system"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:                   "status",
		Short:                 "Show daemon, host and attached device status",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := buildRuntime(session.Options{})
			if err != nil {
				return err
			}
			defer r.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			monitor := system.NewMonitor(r.mounts)

			fmt.Fprintln(out, "garmind status")
			fmt.Fprintln(out, "==============")

			fmt.Fprintln(out, "\nDaemon:")
			switch pid, err := service.DaemonPid(r.cfg.Daemon.PidFile); {
			case err == nil:
				fmt.Fprintf(out, "  Running (PID %d)\n", pid)
			case errors.Is(err, service.ErrNotRunning):
				fmt.Fprintln(out, "  Not running")
			default:
				fmt.Fprintf(out, "  Unknown: %v\n", err)
			}
			if sm, err := service.NewServiceManager(nil, ""); err == nil {
				if status, err := sm.Status(); err == nil {
					fmt.Fprintf(out, "  Service: %s\n", status)
				} else {
					fmt.Fprintln(out, "  Service: Not installed")
				}
			}

			fmt.Fprintln(out, "\nHost:")
			if info, err := monitor.Host(ctx); err == nil {
				fmt.Fprintf(out, "  Hostname: %s\n", info.Hostname)
				fmt.Fprintf(out, "  OS: %s %s (kernel %s)\n", info.OS, info.Platform, info.KernelVersion)
				fmt.Fprintf(out, "  Uptime: %s\n", info.Uptime)
				fmt.Fprintf(out, "  Memory Usage: %.2f%%\n", info.MemoryPercent)
			} else {
				fmt.Fprintf(out, "  Unavailable: %v\n", err)
			}

			fmt.Fprintln(out, "\nGarmin USB Volumes:")
			for _, err := range r.coord.Scan(ctx, device.KindUSB) {
				if err != nil {
					fmt.Fprintf(out, "  Scan failed: %v\n", err)
				}
			}
			volumes, err := monitor.Volumes(ctx, r.coord.Devices(device.KindUSB))
			if err != nil {
				return err
			}
			if len(volumes) == 0 {
				fmt.Fprintln(out, "  None attached")
			}
			for _, v := range volumes {
				fmt.Fprintf(out, "  %s (%s)\n", v.DisplayName, v.Node)
				if v.Mounted {
					fmt.Fprintf(out, "    Mounted: %s, %.1f%% used of %d MB\n", v.MountPoint, v.UsedPercent, v.Total>>20)
				} else {
					fmt.Fprintln(out, "    Not mounted")
				}
			}
			return nil
		},
	}
}
