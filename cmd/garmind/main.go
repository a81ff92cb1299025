// Author @gajzzs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gajzzs/garmind/internal/app"
	"github.com/gajzzs/garmind/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "garmind",
	Short:         "Archive activity files from Garmin devices",
	Long:          "garmind discovers Garmin watches over USB and Bluetooth, mounts or pairs them, and archives their FIT activity files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&config.ConfigFile, "config", config.ConfigFile, "path to the configuration file")
	rootCmd.AddCommand(
		app.NewScanCommand(),
		app.NewSyncCommand(),
		app.NewPairCommand(),
		app.NewStatusCommand(),
		app.NewConfigCommand(),
		app.NewServiceCommand(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
