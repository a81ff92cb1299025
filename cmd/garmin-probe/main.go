// garmin-probe prints what the platform layer sees: partitions with their
// USB vendor and label, where they are mounted, and optionally the block
// hotplug events that arrive while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gajzzs/garmind/internal/platform"
)

func main() {
	watch := flag.Bool("watch", false, "print block uevents until interrupted")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Probing block devices on %s\n", runtime.GOOS)

	partitions, err := platform.NewBlockEnumerator().Partitions(ctx)
	if err != nil {
		log.Fatalf("Error listing partitions: %v", err)
	}

	mounts := platform.NewMountTable()
	fmt.Printf("Found %d partitions:\n", len(partitions))
	for i, p := range partitions {
		mountPoint, mounted, err := mounts.MountPoint(ctx, p.Node)
		if err != nil {
			log.Printf("Error reading mount table: %v", err)
		}
		fmt.Printf("%d. %s (vendor: %s, label: %q, serial: %s, mounted: %v %s)\n",
			i+1, p.Node, p.VendorID, p.Label, p.Serial, mounted, mountPoint)
	}

	if !*watch {
		return
	}

	events, err := platform.WatchBlockEvents(ctx)
	if err != nil {
		log.Fatalf("Error subscribing to uevents: %v", err)
	}
	fmt.Println("\nWatching block events, press Ctrl+C to stop")
	for ev := range events {
		fmt.Printf("%-7s %-10s %s (partition add: %v)\n", ev.Action, ev.DevType, ev.DevName, ev.IsPartitionAdd())
	}
}
