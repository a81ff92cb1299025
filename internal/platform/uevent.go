package platform

import (
	"bytes"
	"strings"
)

// BlockEvent is a kernel uevent for the block subsystem.
type BlockEvent struct {
	Action    string
	DevPath   string
	DevName   string
	DevType   string
	Subsystem string
}

// IsPartitionAdd reports whether the event announces a new partition.
func (e BlockEvent) IsPartitionAdd() bool {
	return e.Action == "add" && e.Subsystem == "block" && e.DevType == "partition"
}

// ParseUevent decodes a raw kernel uevent datagram of the form
// "action@devpath\0KEY=VALUE\0...".
func ParseUevent(msg []byte) (BlockEvent, bool) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) < 2 {
		return BlockEvent{}, false
	}

	header := string(fields[0])
	at := strings.IndexByte(header, '@')
	if at <= 0 {
		// udev-originated messages start with "libudev" and are not handled here
		return BlockEvent{}, false
	}

	ev := BlockEvent{
		Action:  header[:at],
		DevPath: header[at+1:],
	}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		switch key {
		case "ACTION":
			ev.Action = value
		case "DEVPATH":
			ev.DevPath = value
		case "DEVNAME":
			ev.DevName = value
		case "DEVTYPE":
			ev.DevType = value
		case "SUBSYSTEM":
			ev.Subsystem = value
		}
	}
	return ev, true
}
