// Package bluetooth implements device.Transport for Garmin watches paired
// through the BlueZ adapter on the system bus. The pairing handshake itself
// is left to BlueZ and whatever agent is registered with it.
package bluetooth

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	dbus "github.com/godbus/dbus/v5"

	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
)

const (
	DefaultNameToken  = "Garmin"
	DefaultScanWindow = 10 * time.Second

	stopDiscoveryTimeout = 5 * time.Second
)

type Options struct {
	// NameToken must appear in a device's advertised name for it to match.
	NameToken string
}

type Transport struct {
	bus  Bus
	opts Options
	log  logger.Logger
}

func New(opts Options, bus Bus, log logger.Logger) *Transport {
	if opts.NameToken == "" {
		opts.NameToken = DefaultNameToken
	}
	return &Transport{bus: bus, opts: opts, log: log.WithComponent("bluetooth")}
}

func (t *Transport) Kind() device.Kind {
	return device.KindBluetooth
}

// Discover keeps the default adapter in discovery mode for window, then
// reports the Garmin devices BlueZ knows about.
func (t *Transport) Discover(ctx context.Context, window time.Duration, found func(device.Descriptor)) error {
	if window <= 0 {
		window = DefaultScanWindow
	}

	objs, err := t.bus.ManagedObjects(ctx)
	if err != nil {
		return classify(err, "discover", "")
	}
	adapter, ok := defaultAdapter(objs)
	if !ok {
		return device.Errorf(device.ReasonNoAdapter, "discover", "", "no %s registered on the bus", adapterIface)
	}

	if err := t.bus.Call(ctx, adapter, adapterIface+".StartDiscovery"); err != nil && errorName(err) != "org.bluez.Error.InProgress" {
		return classify(err, "discover", "")
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopDiscoveryTimeout)
		defer cancel()
		if err := t.bus.Call(stopCtx, adapter, adapterIface+".StopDiscovery"); err != nil {
			t.log.Debug().Err(err).Str("adapter", string(adapter)).Msg("StopDiscovery failed")
		}
	}()

	t.log.Debug().Str("adapter", string(adapter)).Dur("window", window).Msg("Bluetooth discovery started")

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return classify(ctx.Err(), "discover", "")
	case <-timer.C:
	}

	objs, err = t.bus.ManagedObjects(ctx)
	if err != nil {
		return classify(err, "discover", "")
	}

	prefix := string(adapter) + "/"
	for _, p := range sortedPaths(objs) {
		props, ok := objs[p][deviceIface]
		if !ok || !strings.HasPrefix(string(p), prefix) {
			continue
		}
		name := stringProp(props, "Name")
		if !strings.Contains(name, t.opts.NameToken) {
			continue
		}
		addr := strings.ToUpper(stringProp(props, "Address"))
		if addr == "" {
			addr = addressFromPath(p)
		}
		found(device.Descriptor{
			ID:          addr,
			Kind:        device.KindBluetooth,
			DisplayName: name,
			Address:     addr,
		})
	}
	return nil
}

// Open pairs with the device. A device BlueZ already reports as paired is
// adopted and is not removed again on Close.
func (t *Transport) Open(ctx context.Context, d device.Descriptor) (*device.Handle, error) {
	if d.Address == "" {
		return nil, device.Errorf(device.ReasonUnknown, "pair", d.ID, "descriptor has no address")
	}

	objs, err := t.bus.ManagedObjects(ctx)
	if err != nil {
		return nil, classify(err, "pair", d.ID)
	}
	adapter, ok := defaultAdapter(objs)
	if !ok {
		return nil, device.Errorf(device.ReasonNoAdapter, "pair", d.ID, "no %s registered on the bus", adapterIface)
	}

	devPath := DevicePath(adapter, d.Address)
	if props, ok := objs[devPath][deviceIface]; ok {
		if paired, _ := props["Paired"].Value().(bool); paired {
			t.log.Info().Str("address", d.Address).Msg("Device already paired")
			return &device.Handle{Kind: device.KindBluetooth, ObjectPath: string(devPath)}, nil
		}
	}

	if err := t.bus.Call(ctx, devPath, deviceIface+".Pair"); err != nil {
		if errorName(err) == "org.bluez.Error.AlreadyExists" {
			return &device.Handle{Kind: device.KindBluetooth, ObjectPath: string(devPath)}, nil
		}
		return nil, classify(err, "pair", d.ID)
	}

	t.log.Info().Str("address", d.Address).Str("path", string(devPath)).Msg("Paired device")
	return &device.Handle{Kind: device.KindBluetooth, ObjectPath: string(devPath), Owned: true}, nil
}

// Close unpairs a device this transport paired by removing it from its adapter.
func (t *Transport) Close(ctx context.Context, h *device.Handle) error {
	if h == nil || !h.Owned {
		return nil
	}
	adapter := dbus.ObjectPath(path.Dir(h.ObjectPath))
	if err := t.bus.Call(ctx, adapter, adapterIface+".RemoveDevice", dbus.ObjectPath(h.ObjectPath)); err != nil {
		return classify(err, "unpair", "")
	}
	return nil
}

// DevicePath builds the BlueZ object path of addr under adapter,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

func defaultAdapter(objs ManagedObjects) (dbus.ObjectPath, bool) {
	for _, p := range sortedPaths(objs) {
		if _, ok := objs[p][adapterIface]; ok {
			return p, true
		}
	}
	return "", false
}

func sortedPaths(objs ManagedObjects) []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(objs))
	for p := range objs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func addressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

func errorName(err error) string {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name
	}
	return ""
}

var reasonsByName = map[string]device.Reason{
	"org.bluez.Error.InProgress":                  device.ReasonDeviceBusy,
	"org.bluez.Error.Busy":                        device.ReasonDeviceBusy,
	"org.bluez.Error.AuthenticationFailed":        device.ReasonPermissionDenied,
	"org.bluez.Error.AuthenticationRejected":      device.ReasonPermissionDenied,
	"org.bluez.Error.AuthenticationCanceled":      device.ReasonPermissionDenied,
	"org.bluez.Error.NotAuthorized":               device.ReasonPermissionDenied,
	"org.bluez.Error.NotPermitted":                device.ReasonPermissionDenied,
	"org.bluez.Error.AuthenticationTimeout":       device.ReasonTimeout,
	"org.bluez.Error.ConnectionAttemptFailed":     device.ReasonTimeout,
	"org.bluez.Error.NotReady":                    device.ReasonSubsystemUnavailable,
	"org.bluez.Error.NotSupported":                device.ReasonSubsystemUnavailable,
	"org.freedesktop.DBus.Error.AccessDenied":     device.ReasonPermissionDenied,
	"org.freedesktop.DBus.Error.NoReply":          device.ReasonTimeout,
	"org.freedesktop.DBus.Error.Timeout":          device.ReasonTimeout,
	"org.freedesktop.DBus.Error.ServiceUnknown":   device.ReasonSubsystemUnavailable,
	"org.freedesktop.DBus.Error.NameHasNoOwner":   device.ReasonSubsystemUnavailable,
	"org.freedesktop.DBus.Error.Disconnected":     device.ReasonSubsystemUnavailable,
	"org.freedesktop.DBus.Error.UnknownObject":    device.ReasonUnknown,
	"org.freedesktop.DBus.Error.UnknownMethod":    device.ReasonSubsystemUnavailable,
	"org.freedesktop.DBus.Error.UnknownInterface": device.ReasonSubsystemUnavailable,
}

// classify maps bus errors onto the device taxonomy by D-Bus error name.
func classify(err error, op, id string) *device.Error {
	var de *device.Error
	if errors.As(err, &de) {
		return device.Classify(err, op, id)
	}
	if reason, ok := reasonsByName[errorName(err)]; ok {
		return device.NewError(reason, op, id, err)
	}
	return device.Classify(err, op, id)
}
