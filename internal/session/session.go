package session

import (
	"sync"

	"github.com/gajzzs/garmind/internal/device"
)

// Session is the connection state of one device id. mu is the per-id lock:
// it is held exclusively for every state transition.
type Session struct {
	mu sync.RWMutex

	id       string
	device   device.Descriptor
	state    State
	attempts int
	lastErr  *device.Error
	handle   *device.Handle

	// inflight is guarded by Coordinator.mu, not by mu, so that a second
	// connect can be refused without waiting for the first.
	inflight bool
}

// Snapshot is a copy of a session taken under its lock.
type Snapshot struct {
	ID          string
	Device      device.Descriptor
	State       State
	Attempts    int
	LastError   *device.Error
	MountPath   string
	PairingPath string
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Device:    s.device,
		State:     s.state,
		Attempts:  s.attempts,
		LastError: s.lastErr,
	}
	if s.handle != nil && s.state.Connected() {
		switch s.handle.Kind {
		case device.KindUSB:
			snap.MountPath = s.handle.MountPath
		case device.KindBluetooth:
			snap.PairingPath = s.handle.ObjectPath
		}
	}
	return snap
}
