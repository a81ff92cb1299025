//go:build linux
// +build linux

package platform

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsEnumerator lists partitions from sysfs and enriches them with the
// properties udev recorded in its database.
type SysfsEnumerator struct {
	SysRoot  string
	UdevRoot string
	DevRoot  string
}

func newBlockEnumerator() BlockEnumerator {
	return &SysfsEnumerator{
		SysRoot:  "/sys",
		UdevRoot: "/run/udev/data",
		DevRoot:  "/dev",
	}
}

func (e *SysfsEnumerator) Partitions(ctx context.Context) ([]Partition, error) {
	classDir := filepath.Join(e.SysRoot, "class", "block")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, err
	}

	var partitions []Partition
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		sysPath := filepath.Join(classDir, name)
		if _, err := os.Stat(filepath.Join(sysPath, "partition")); err != nil {
			continue
		}

		p := Partition{
			Name: name,
			Node: filepath.Join(e.DevRoot, name),
		}

		props := e.udevProperties(sysPath)
		p.VendorID = props["ID_VENDOR_ID"]
		p.Serial = props["ID_SERIAL_SHORT"]
		if enc := props["ID_FS_LABEL_ENC"]; enc != "" {
			p.Label = decodeUdevString(enc)
		} else {
			p.Label = props["ID_FS_LABEL"]
		}

		if p.VendorID == "" {
			p.VendorID = e.sysfsVendor(sysPath)
		}
		if p.Label == "" {
			p.Label = e.labelFromDevLinks(p.Node)
		}

		partitions = append(partitions, p)
	}
	return partitions, nil
}

// udevProperties reads the E: records udev stored for the device whose
// major:minor is in sysPath/dev.
func (e *SysfsEnumerator) udevProperties(sysPath string) map[string]string {
	props := make(map[string]string)

	data, err := os.ReadFile(filepath.Join(sysPath, "dev"))
	if err != nil {
		return props
	}
	f, err := os.Open(filepath.Join(e.UdevRoot, "b"+strings.TrimSpace(string(data))))
	if err != nil {
		return props
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "E:") {
			continue
		}
		if key, value, ok := strings.Cut(line[2:], "="); ok {
			props[key] = value
		}
	}
	return props
}

// sysfsVendor walks up from the partition towards the USB device that
// carries an idVendor attribute.
func (e *SysfsEnumerator) sysfsVendor(sysPath string) string {
	dir, err := filepath.EvalSymlinks(sysPath)
	if err != nil {
		return ""
	}
	root, err := filepath.EvalSymlinks(e.SysRoot)
	if err != nil {
		root = e.SysRoot
	}

	for dir != root && dir != "/" && dir != "." {
		if data, err := os.ReadFile(filepath.Join(dir, "idVendor")); err == nil {
			return strings.TrimSpace(string(data))
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

func (e *SysfsEnumerator) labelFromDevLinks(node string) string {
	labelDir := filepath.Join(e.DevRoot, "disk", "by-label")
	entries, err := os.ReadDir(labelDir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		linkPath := filepath.Join(labelDir, entry.Name())
		target, err := os.Readlink(linkPath)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(linkPath), target)
		}
		if filepath.Clean(target) == node {
			return decodeUdevString(entry.Name())
		}
	}
	return ""
}

// decodeUdevString undoes udev's \xNN escaping of labels.
func decodeUdevString(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
