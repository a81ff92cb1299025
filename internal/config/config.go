package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gajzzs/garmind/internal/logger"
)

var (
	ConfigDir  = "/etc/garmind"
	ConfigFile = filepath.Join(ConfigDir, "config.yaml")
)

type Config struct {
	Log       logger.Config   `yaml:"log"`
	USB       USBConfig       `yaml:"usb"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Retry     RetryConfig     `yaml:"retry"`
	Extract   ExtractConfig   `yaml:"extract"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

type USBConfig struct {
	// VendorID is the hex USB vendor code partitions must carry.
	VendorID     string `yaml:"vendor_id"`
	MountRoot    string `yaml:"mount_root"`
	Filesystem   string `yaml:"filesystem"`
	DefaultLabel string `yaml:"default_label"`
}

type BluetoothConfig struct {
	ScanWindow time.Duration `yaml:"scan_window"`
	NameToken  string        `yaml:"name_token"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type ExtractConfig struct {
	Extension  string `yaml:"extension"`
	ArchiveDir string `yaml:"archive_dir"`
}

type DaemonConfig struct {
	PidFile string `yaml:"pid_file"`
	// SettleDelay gives udev time to finish probing a new partition
	// before it is enumerated.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

func Default() *Config {
	return &Config{
		Log: logger.DefaultConfig(),
		USB: USBConfig{
			VendorID:     "091E",
			MountRoot:    "/mnt/garmin",
			Filesystem:   "vfat",
			DefaultLabel: "Garmin Device",
		},
		Bluetooth: BluetoothConfig{
			ScanWindow: 10 * time.Second,
			NameToken:  "Garmin",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Extract: ExtractConfig{
			Extension:  ".fit",
			ArchiveDir: "/var/lib/garmind/activities",
		},
		Daemon: DaemonConfig{
			PidFile:     "/var/run/garmind.pid",
			SettleDelay: 2 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if _, err := c.USB.Vendor(); err != nil {
		return err
	}
	if c.USB.MountRoot == "" {
		return errors.New("usb.mount_root is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Bluetooth.ScanWindow <= 0 {
		return errors.New("bluetooth.scan_window must be positive")
	}
	if strings.TrimPrefix(c.Extract.Extension, ".") == "" {
		return errors.New("extract.extension is required")
	}
	return nil
}

// Vendor parses VendorID, accepting an optional 0x prefix.
func (u USBConfig) Vendor() (uint16, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(u.VendorID)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("usb.vendor_id %q is not a 16-bit hex value", u.VendorID)
	}
	return uint16(v), nil
}
