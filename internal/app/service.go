package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gajzzs/garmind/internal/config"
	"github.com/gajzzs/garmind/internal/service"
	"github.com/gajzzs/garmind/internal/session"
)

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("must be run as root")
	}
	return nil
}

func NewServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the garmind sync daemon",
	}

	control := func(use, short, done string, action func(*service.ServiceManager) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := requireRoot(); err != nil {
					return err
				}
				sm, err := service.NewServiceManager(nil, config.ConfigFile)
				if err != nil {
					return err
				}
				if err := action(sm); err != nil {
					return fmt.Errorf("failed to %s service: %w", use, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), done)
				return nil
			},
		}
	}

	cmd.AddCommand(
		control("install", "Install garmind as a system service", "Service installed and enabled for auto-start", (*service.ServiceManager).Install),
		control("uninstall", "Remove the system service", "Service uninstalled", (*service.ServiceManager).Uninstall),
		control("start", "Start the system service", "Service started", (*service.ServiceManager).Start),
		control("stop", "Stop the system service", "Service stopped", (*service.ServiceManager).Stop),
		control("restart", "Restart the system service", "Service restarted", (*service.ServiceManager).Restart),
		&cobra.Command{
			Use:   "status",
			Short: "Check service status",
			RunE: func(cmd *cobra.Command, args []string) error {
				sm, err := service.NewServiceManager(nil, config.ConfigFile)
				if err != nil {
					return err
				}
				status, err := sm.Status()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service status: %s\n", status)
				fmt.Fprintf(cmd.OutOrStdout(), "Service config: %s\n", service.ConfigPath())
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "Run the daemon in the foreground",
			Hidden: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := requireRoot(); err != nil {
					return err
				}
				r, err := buildRuntime(session.Options{})
				if err != nil {
					return err
				}
				defer r.close()

				daemon := service.NewDaemon(r.cfg, r.coord, nil, r.log)
				sm, err := service.NewServiceManager(daemon, config.ConfigFile)
				if err != nil {
					return err
				}
				return sm.Run()
			},
		},
	)
	return cmd
}
