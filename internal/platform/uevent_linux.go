//go:build linux
// +build linux

package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

const (
	ueventGroupKernel = 1
	ueventBufferSize  = 64 * 1024
	pollIntervalMs    = 500
)

// WatchBlockEvents subscribes to kernel uevents and streams those of the
// block subsystem until ctx is cancelled.
func WatchBlockEvents(ctx context.Context) (<-chan BlockEvent, error) {
	sock, err := nl.Subscribe(unix.NETLINK_KOBJECT_UEVENT, ueventGroupKernel)
	if err != nil {
		return nil, fmt.Errorf("subscribe to uevents: %w", err)
	}

	out := make(chan BlockEvent, 16)
	go func() {
		defer close(out)
		defer sock.Close()

		fd := sock.GetFd()
		buf := make([]byte, ueventBufferSize)
		for ctx.Err() == nil {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
			n, err := unix.Poll(fds, pollIntervalMs)
			if errors.Is(err, unix.EINTR) || n == 0 {
				continue
			}
			if err != nil {
				return
			}

			m, err := unix.Read(fd, buf)
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				return
			}

			ev, ok := ParseUevent(buf[:m])
			if !ok || ev.Subsystem != "block" {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
