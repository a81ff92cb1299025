package bluetooth

import (
	"context"
	"fmt"
	"sync"

	dbus "github.com/godbus/dbus/v5"

	"github.com/gajzzs/garmind/internal/device"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// ManagedObjects is the decoded reply of ObjectManager.GetManagedObjects:
// object path -> interface -> property -> value.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Bus is the slice of the BlueZ D-Bus API the transport needs.
type Bus interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error
}

// SystemBus talks to BlueZ over a private system bus connection that is
// opened on first use.
type SystemBus struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	closed bool
}

func NewSystemBus() *SystemBus {
	return &SystemBus{}
}

func (b *SystemBus) connection() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, device.Errorf(device.ReasonSubsystemUnavailable, "bus", "", "system bus closed")
	}
	if b.conn != nil {
		return b.conn, nil
	}
	c, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, device.NewError(device.ReasonSubsystemUnavailable, "bus", "", fmt.Errorf("connect system bus: %w", err))
	}
	b.conn = c
	return c, nil
}

func (b *SystemBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	var objs ManagedObjects
	call := conn.Object(bluezService, dbus.ObjectPath("/")).CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

func (b *SystemBus) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	if call := conn.Object(bluezService, path).CallWithContext(ctx, method, 0, args...); call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	return nil
}

// Close is idempotent.
func (b *SystemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
