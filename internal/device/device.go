// Package device holds the transport-independent model shared by the
// coordinator and the USB and Bluetooth transports.
package device

import "fmt"

type Kind int

const (
	KindUSB Kind = iota
	KindBluetooth
)

func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "usb"
	case KindBluetooth:
		return "bluetooth"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the names produced by Kind.String plus the "bt" shorthand.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "usb":
		return KindUSB, nil
	case "bluetooth", "bt":
		return KindBluetooth, nil
	}
	return 0, fmt.Errorf("unknown device kind %q", s)
}

// Descriptor identifies one discoverable device. Descriptors are values and
// never modified after creation; a rediscovered device produces a new
// Descriptor that supersedes the old one by ID.
type Descriptor struct {
	ID          string
	Kind        Kind
	DisplayName string

	// Node is the block device node of a USB partition, e.g. /dev/sdb1.
	Node string
	// Address is the Bluetooth address reported by the adapter.
	Address string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Kind, d.ID, d.DisplayName)
}

// Handle is the resource held while a session is Mounted or Paired.
type Handle struct {
	Kind Kind

	// MountPath is where a USB partition is attached.
	MountPath string
	// Owned is false when the mount was found already in place and must
	// be left alone on release.
	Owned bool

	// ObjectPath is the bus path of a paired Bluetooth device.
	ObjectPath string
}

// ManifestEntry is one activity file found on a mounted device.
type ManifestEntry struct {
	Path      string
	RelPath   string
	SizeBytes int64
	Extension string
}
