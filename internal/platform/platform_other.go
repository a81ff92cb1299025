//go:build !linux
// +build !linux

package platform

import "context"

type unsupported struct{}

func newBlockEnumerator() BlockEnumerator { return unsupported{} }

func newMounter() Mounter { return unsupported{} }

func (unsupported) Partitions(context.Context) ([]Partition, error) {
	return nil, ErrUnsupported
}

func (unsupported) Mount(string, string, string) error { return ErrUnsupported }

func (unsupported) Unmount(string) error { return ErrUnsupported }

func WatchBlockEvents(context.Context) (<-chan BlockEvent, error) {
	return nil, ErrUnsupported
}
