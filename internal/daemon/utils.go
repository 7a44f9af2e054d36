package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	runtimeDir  = "/run/guapow"
	pidFileName = "guapow-optd.pid"
	keyFileName = "guapow-optd.key"
)

// RuntimeDir returns the directory the daemon publishes its PID file and
// ephemeral encryption key into; GUAPOW_OPT_RUNTIME_DIR overrides it for
// tests and non-root development runs.
func RuntimeDir() string {
	if dir := os.Getenv("GUAPOW_OPT_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return runtimeDir
}

// EnsureRuntimeDir creates the runtime directory if missing.
func EnsureRuntimeDir() error {
	return os.MkdirAll(RuntimeDir(), 0o700)
}

// PIDPath returns the full path to the daemon's PID file.
func PIDPath() string {
	return filepath.Join(RuntimeDir(), pidFileName)
}

// KeyPath returns the full path to the daemon's published ephemeral key
// file (see WriteKey for its permissions).
func KeyPath() string {
	return filepath.Join(RuntimeDir(), keyFileName)
}

// WritePID stores the provided pid into the pid file.
func WritePID(pid int) error {
	if err := EnsureRuntimeDir(); err != nil {
		return err
	}
	return os.WriteFile(PIDPath(), []byte(fmt.Sprintf("%d\n", pid)), 0o600)
}

// RemovePID removes the pid file if it exists.
func RemovePID() error {
	if err := os.Remove(PIDPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// RunningPID returns the pid stored in the pid file, if any.
func RunningPID() (int, error) {
	data, err := os.ReadFile(PIDPath())
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// WriteKey publishes the daemon's ephemeral encryption key. The file is
// owner-read/write only (0600) inside the 0700 runtime directory, so only
// the daemon's own user can read it; nothing here grants access to the
// users in request.allowed_users.
func WriteKey(key string) error {
	if err := EnsureRuntimeDir(); err != nil {
		return err
	}
	return os.WriteFile(KeyPath(), []byte(key), 0o600)
}

// RemoveKey removes the published key file.
func RemoveKey() error {
	if err := os.Remove(KeyPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// IsRunning reports whether the pid recorded in the pid file is alive.
func IsRunning() bool {
	pid, err := RunningPID()
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
