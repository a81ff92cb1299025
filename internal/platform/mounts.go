package platform

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

type psutilMountTable struct{}

// NewMountTable returns a MountTable backed by the system mount list.
func NewMountTable() MountTable {
	return psutilMountTable{}
}

func (psutilMountTable) MountPoint(ctx context.Context, node string) (string, bool, error) {
	partitions, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return "", false, fmt.Errorf("list mounts: %w", err)
	}
	for _, p := range partitions {
		if p.Device == node && p.Mountpoint != "" {
			return p.Mountpoint, true, nil
		}
	}
	return "", false, nil
}
