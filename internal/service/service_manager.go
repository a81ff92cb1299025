package service

import (
	"fmt"
	"os"

	"github.com/kardianos/service"
)

const ServiceName = "garmind"

type ServiceManager struct {
	service service.Service
}

type program struct {
	daemon *Daemon
}

func (p *program) Start(s service.Service) error {
	if p.daemon == nil {
		return fmt.Errorf("no daemon configured")
	}
	return p.daemon.Start()
}

func (p *program) Stop(s service.Service) error {
	if p.daemon == nil {
		return nil
	}
	return p.daemon.Stop()
}

// NewServiceManager wraps the OS service for garmind. daemon may be nil when
// the manager is only used to install or control the service.
func NewServiceManager(daemon *Daemon, configPath string) (*ServiceManager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	svcConfig := &service.Config{
		Name:        ServiceName,
		DisplayName: "Garmin Activity Sync",
		Description: "Archives FIT activity files from Garmin devices as they are attached",
		Executable:  execPath,
		Arguments:   args,
		Option: service.KeyValue{
			"Restart": "on-failure",
		},
	}

	svc, err := service.New(&program{daemon: daemon}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &ServiceManager{service: svc}, nil
}

func (sm *ServiceManager) Install() error {
	return sm.service.Install()
}

func (sm *ServiceManager) Uninstall() error {
	return sm.service.Uninstall()
}

func (sm *ServiceManager) Start() error {
	return sm.service.Start()
}

func (sm *ServiceManager) Stop() error {
	return sm.service.Stop()
}

func (sm *ServiceManager) Restart() error {
	return sm.service.Restart()
}

// Run blocks until the service manager or a signal stops the daemon.
func (sm *ServiceManager) Run() error {
	return sm.service.Run()
}

func (sm *ServiceManager) Status() (string, error) {
	status, err := sm.service.Status()
	if err != nil {
		return "Unknown", err
	}
	return statusName(status), nil
}

func statusName(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Running"
	case service.StatusStopped:
		return "Stopped"
	case service.StatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(status))
	}
}

// ConfigPath is where the service definition lives on this platform.
func ConfigPath() string {
	switch service.Platform() {
	case "linux-systemd":
		return "/etc/systemd/system/" + ServiceName + ".service"
	case "linux-upstart":
		return "/etc/init/" + ServiceName + ".conf"
	case "unix-systemv":
		return "/etc/init.d/" + ServiceName
	case "darwin-launchd":
		return "/Library/LaunchDaemons/" + ServiceName + ".plist"
	default:
		return "unknown"
	}
}
