package service

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/gajzzs/garmind/internal/config"
	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
	"github.com/gajzzs/garmind/internal/platform"
	"github.com/gajzzs/garmind/internal/session"
)

const shutdownTimeout = 30 * time.Second

// EventSource subscribes to block-device hotplug events until ctx is done.
type EventSource func(ctx context.Context) (<-chan platform.BlockEvent, error)

// Daemon syncs every Garmin volume that is attached while it runs, plus any
// already attached when it starts.
type Daemon struct {
	cfg    *config.Config
	coord  *session.Coordinator
	events EventSource
	log    logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDaemon(cfg *config.Config, coord *session.Coordinator, events EventSource, log logger.Logger) *Daemon {
	if events == nil {
		events = platform.WatchBlockEvents
	}
	return &Daemon{
		cfg:    cfg,
		coord:  coord,
		events: events,
		log:    log.WithComponent("daemon"),
	}
}

// Start subscribes to hotplug events and returns; work happens in the
// background until Stop.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := d.events(ctx)
	if err != nil {
		cancel()
		return err
	}

	if err := CreatePidFile(d.cfg.Daemon.PidFile); err != nil {
		d.log.Warn().Err(err).Msg("Could not create PID file")
	}

	d.running = true
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.syncAttached(ctx, "")
	}()
	go func() {
		defer d.wg.Done()
		d.loop(ctx, events)
	}()

	d.log.Info().Msg("Daemon started")
	return nil
}

// Stop cancels in-flight syncs, waits for them and releases every device.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return errors.New("daemon not running")
	}

	d.log.Info().Msg("Stopping daemon")
	d.cancel()
	d.wg.Wait()
	d.running = false

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	d.coord.Close(ctx)

	if err := RemovePidFile(d.cfg.Daemon.PidFile); err != nil {
		d.log.Warn().Err(err).Msg("Could not remove PID file")
	}
	return nil
}

func (d *Daemon) loop(ctx context.Context, events <-chan platform.BlockEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.IsPartitionAdd() {
				continue
			}
			d.log.Debug().Str("dev", ev.DevName).Msg("Partition added")

			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				if !sleepCtx(ctx, d.cfg.Daemon.SettleDelay) {
					return
				}
				d.syncAttached(ctx, "/dev/"+path.Base(ev.DevName))
			}()
		}
	}
}

// syncAttached scans USB and syncs each Garmin partition found, or only the
// one at node when node is set.
func (d *Daemon) syncAttached(ctx context.Context, node string) {
	for desc, err := range d.coord.Scan(ctx, device.KindUSB) {
		if err != nil {
			if ctx.Err() == nil {
				d.log.Error().Err(err).Msg("USB scan failed")
			}
			return
		}
		if node != "" && desc.Node != node {
			continue
		}

		res, err := Sync(ctx, d.coord, desc.ID, d.cfg.Extract.ArchiveDir, d.log)
		switch {
		case device.IsReason(err, device.ReasonAlreadyConnecting):
			d.log.Debug().Str("device_id", desc.ID).Msg("Sync already in progress")
		case err != nil:
			d.log.Error().Err(err).Str("device_id", desc.ID).Str("reason", string(device.ReasonOf(err))).Msg("Sync failed")
		case res.Files == 0:
			d.log.Info().Str("device_id", desc.ID).Msg("No activity files on device")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
