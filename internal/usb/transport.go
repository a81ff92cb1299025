// Package usb implements device.Transport for Garmin watches that expose
// their storage as a USB mass-storage partition.
package usb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gajzzs/garmind/internal/crypto"
	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
	"github.com/gajzzs/garmind/internal/platform"
)

// GarminVendorID is Garmin's registered USB vendor code.
const GarminVendorID uint16 = 0x091E

type Options struct {
	VendorID     uint16
	MountRoot    string
	Filesystem   string
	DefaultLabel string
}

type Transport struct {
	opts    Options
	enum    platform.BlockEnumerator
	mounter platform.Mounter
	mounts  platform.MountTable
	log     logger.Logger
}

func New(opts Options, enum platform.BlockEnumerator, mounter platform.Mounter, mounts platform.MountTable, log logger.Logger) *Transport {
	if opts.VendorID == 0 {
		opts.VendorID = GarminVendorID
	}
	if opts.DefaultLabel == "" {
		opts.DefaultLabel = "Garmin Device"
	}
	if opts.Filesystem == "" {
		opts.Filesystem = "vfat"
	}
	return &Transport{
		opts:    opts,
		enum:    enum,
		mounter: mounter,
		mounts:  mounts,
		log:     log.WithComponent("usb"),
	}
}

func (t *Transport) Kind() device.Kind {
	return device.KindUSB
}

// Discover performs a single enumeration pass; window is not used.
func (t *Transport) Discover(ctx context.Context, _ time.Duration, found func(device.Descriptor)) error {
	partitions, err := t.enum.Partitions(ctx)
	if err != nil {
		return classify(err, "discover", "")
	}

	matched := 0
	for _, p := range partitions {
		if !t.vendorMatches(p.VendorID) {
			continue
		}
		label := strings.TrimSpace(p.Label)
		if label == "" {
			label = t.opts.DefaultLabel
		}
		found(device.Descriptor{
			ID:          crypto.USBDeviceID(p.Node, label),
			Kind:        device.KindUSB,
			DisplayName: label,
			Node:        p.Node,
		})
		matched++
	}

	t.log.Debug().Int("partitions", len(partitions)).Int("matched", matched).Msg("USB enumeration finished")
	return nil
}

func (t *Transport) vendorMatches(reported string) bool {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(reported)), "0x")
	if s == "" {
		return false
	}
	v, err := strconv.ParseUint(s, 16, 16)
	return err == nil && uint16(v) == t.opts.VendorID
}

// MountPoint is where d is attached when no existing mount is adopted.
func (t *Transport) MountPoint(d device.Descriptor) string {
	return filepath.Join(t.opts.MountRoot, filepath.Base(d.Node))
}

// Open mounts the partition. A partition that is already mounted, for example
// by a desktop automounter, is adopted as-is and left mounted on Close.
func (t *Transport) Open(ctx context.Context, d device.Descriptor) (*device.Handle, error) {
	if d.Node == "" {
		return nil, device.Errorf(device.ReasonUnknown, "mount", d.ID, "descriptor has no device node")
	}

	if t.mounts != nil {
		existing, ok, err := t.mounts.MountPoint(ctx, d.Node)
		if err != nil {
			t.log.Warn().Err(err).Str("node", d.Node).Msg("Could not read mount table")
		} else if ok {
			t.log.Info().Str("node", d.Node).Str("mount_path", existing).Msg("Adopting existing mount")
			return &device.Handle{Kind: device.KindUSB, MountPath: existing, Owned: false}, nil
		}
	}

	target := t.MountPoint(d)
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, classify(err, "mount", d.ID)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(target)
		return nil, classify(err, "mount", d.ID)
	}

	if err := t.mounter.Mount(d.Node, target, t.opts.Filesystem); err != nil {
		os.Remove(target)
		return nil, classify(err, "mount", d.ID)
	}

	t.log.Info().Str("node", d.Node).Str("mount_path", target).Msg("Mounted device")
	return &device.Handle{Kind: device.KindUSB, MountPath: target, Owned: true}, nil
}

func (t *Transport) Close(_ context.Context, h *device.Handle) error {
	if h == nil || !h.Owned {
		return nil
	}
	if err := t.mounter.Unmount(h.MountPath); err != nil {
		return classify(err, "unmount", "")
	}
	if err := os.Remove(h.MountPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.log.Debug().Err(err).Str("mount_path", h.MountPath).Msg("Mount point left in place")
	}
	return nil
}

// classify maps errors from the enumeration and mount subsystems onto the
// device taxonomy.
func classify(err error, op, id string) *device.Error {
	var de *device.Error
	switch {
	case errors.As(err, &de):
		return device.Classify(err, op, id)
	case errors.Is(err, context.Canceled):
		return device.NewError(device.ReasonCancelled, op, id, err)
	case errors.Is(err, context.DeadlineExceeded):
		return device.NewError(device.ReasonTimeout, op, id, err)
	case errors.Is(err, fs.ErrPermission):
		return device.NewError(device.ReasonPermissionDenied, op, id, err)
	case errors.Is(err, syscall.EBUSY):
		return device.NewError(device.ReasonDeviceBusy, op, id, err)
	case errors.Is(err, platform.ErrUnsupported),
		errors.Is(err, syscall.ENOSYS),
		errors.Is(err, syscall.ENODEV):
		return device.NewError(device.ReasonSubsystemUnavailable, op, id, err)
	case op == "discover" && errors.Is(err, fs.ErrNotExist):
		return device.NewError(device.ReasonSubsystemUnavailable, op, id, err)
	}
	return device.NewError(device.ReasonUnknown, op, id, fmt.Errorf("unclassified: %w", err))
}
