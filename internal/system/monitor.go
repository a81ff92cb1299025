// Package system reports on the host and on the storage of connected Garmin
// volumes.
package system

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/platform"
)

type HostInfo struct {
	Hostname      string
	OS            string
	Platform      string
	KernelVersion string
	Uptime        time.Duration
	MemoryPercent float64
}

// Volume is the storage state of one USB device descriptor.
type Volume struct {
	DeviceID    string
	DisplayName string
	Node        string
	MountPoint  string
	Mounted     bool
	Total       uint64
	Used        uint64
	UsedPercent float64
}

type Monitor struct {
	mounts platform.MountTable
	usage  func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewMonitor(mounts platform.MountTable) *Monitor {
	return &Monitor{
		mounts: mounts,
		usage:  disk.UsageWithContext,
	}
}

// Host returns host information. Memory usage is best-effort.
func (m *Monitor) Host(ctx context.Context) (HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to read host info: %w", err)
	}

	out := HostInfo{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform,
		KernelVersion: info.KernelVersion,
		Uptime:        time.Duration(info.Uptime) * time.Second,
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemoryPercent = vm.UsedPercent
	}
	return out, nil
}

// Volumes looks up where each USB descriptor is mounted and how full it is.
// Bluetooth descriptors are ignored.
func (m *Monitor) Volumes(ctx context.Context, devices []device.Descriptor) ([]Volume, error) {
	var volumes []Volume
	for _, d := range devices {
		if d.Kind != device.KindUSB {
			continue
		}

		v := Volume{DeviceID: d.ID, DisplayName: d.DisplayName, Node: d.Node}
		mountPoint, ok, err := m.mounts.MountPoint(ctx, d.Node)
		if err != nil {
			return nil, fmt.Errorf("failed to look up mount for %s: %w", d.Node, err)
		}
		if ok {
			v.MountPoint = mountPoint
			v.Mounted = true
			if usage, err := m.usage(ctx, mountPoint); err == nil {
				v.Total = usage.Total
				v.Used = usage.Used
				v.UsedPercent = usage.UsedPercent
			}
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}
