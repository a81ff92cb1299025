package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

var ErrNotRunning = errors.New("daemon not running")

func CreatePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func RemovePidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}

// DaemonPid returns the PID of the running daemon. A PID file left behind by
// a dead process is removed and reported as ErrNotRunning.
func DaemonPid(path string) (int, error) {
	pid, err := ReadPidFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, err
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("failed to check process %d: %w", pid, err)
	}
	if !alive {
		_ = RemovePidFile(path)
		return 0, ErrNotRunning
	}
	return pid, nil
}
