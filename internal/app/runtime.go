package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gajzzs/garmind/internal/bluetooth"
	"github.com/gajzzs/garmind/internal/config"
	"github.com/gajzzs/garmind/internal/logger"
	"github.com/gajzzs/garmind/internal/platform"
	"github.com/gajzzs/garmind/internal/session"
	"github.com/gajzzs/garmind/internal/usb"
)

// runtime is everything a command needs, built from the config file.
type runtime struct {
	cfg    *config.Config
	log    logger.Logger
	coord  *session.Coordinator
	mounts platform.MountTable
	closer func() error
}

// buildRuntime is replaced in tests.
var buildRuntime = newRuntime

func newRuntime(opts session.Options) (*runtime, error) {
	cfg, err := config.Load(config.ConfigFile)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	vendor, err := cfg.USB.Vendor()
	if err != nil {
		return nil, err
	}

	opts.Retry = session.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	opts.ScanWindow = cfg.Bluetooth.ScanWindow
	opts.Extension = cfg.Extract.Extension

	mounts := platform.NewMountTable()
	bus := bluetooth.NewSystemBus()
	coord := session.New(opts, log,
		usb.New(usb.Options{
			VendorID:     vendor,
			MountRoot:    cfg.USB.MountRoot,
			Filesystem:   cfg.USB.Filesystem,
			DefaultLabel: cfg.USB.DefaultLabel,
		}, platform.NewBlockEnumerator(), platform.NewMounter(), mounts, log),
		bluetooth.New(bluetooth.Options{NameToken: cfg.Bluetooth.NameToken}, bus, log),
	)

	return &runtime{
		cfg:    cfg,
		log:    log,
		coord:  coord,
		mounts: mounts,
		closer: bus.Close,
	}, nil
}

// shutdown releases every resource the coordinator still holds.
func (r *runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r.coord.Close(ctx)
	r.close()
}

// close drops the bus connection but leaves devices as they are.
func (r *runtime) close() {
	if r.closer == nil {
		return
	}
	if err := r.closer(); err != nil {
		r.log.Debug().Err(err).Msg("Close failed")
	}
}
