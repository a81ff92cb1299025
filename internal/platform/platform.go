package platform

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by collaborators that have no implementation
// on the running OS.
var ErrUnsupported = errors.New("not supported on this platform")

// Partition is a block-device partition as reported by the enumeration
// subsystem.
type Partition struct {
	Node string
	Name string
	// VendorID is the USB vendor code in hex as reported, e.g. "091e".
	// Empty when the partition does not sit on a USB device.
	VendorID string
	// Label is the filesystem label, empty when absent.
	Label  string
	Serial string
}

// BlockEnumerator lists the partitions currently known to the kernel.
type BlockEnumerator interface {
	Partitions(ctx context.Context) ([]Partition, error)
}

// Mounter attaches and detaches filesystems.
type Mounter interface {
	Mount(source, target, fstype string) error
	Unmount(target string) error
}

// MountTable answers where a device node is currently mounted.
type MountTable interface {
	MountPoint(ctx context.Context, node string) (string, bool, error)
}

func NewBlockEnumerator() BlockEnumerator {
	return newBlockEnumerator()
}

func NewMounter() Mounter {
	return newMounter()
}
