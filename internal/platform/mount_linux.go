//go:build linux
// +build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type linuxMounter struct{}

func newMounter() Mounter {
	return linuxMounter{}
}

func (linuxMounter) Mount(source, target, fstype string) error {
	if err := unix.Mount(source, target, fstype, unix.MS_NOSUID|unix.MS_NODEV, ""); err != nil {
		return fmt.Errorf("mount %s on %s: %w", source, target, err)
	}
	return nil
}

func (linuxMounter) Unmount(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}
