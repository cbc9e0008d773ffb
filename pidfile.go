package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// errNotRunning means no 'ha-bosch run' holds the PID file of a data dir.
var errNotRunning = errors.New("ha-bosch run is not running")

// runLock is the exclusive PID file of one 'ha-bosch run' process. Two bridges
// polling the same gateways would double the API load and fight over the
// retained MQTT topics, so only one may hold a data directory.
type runLock struct {
	path string
	f    *os.File
}

// acquireRunLock creates path, takes a non-blocking flock on it and writes the
// current PID.
func acquireRunLock(path string) (*runLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty; is data_dir set?")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		holder := "another process"
		if pid, readErr := readPID(path); readErr == nil {
			holder = "PID " + strconv.Itoa(pid)
		}

		return nil, fmt.Errorf("ha-bosch run is already running for this data directory (%s holds %s)", holder, path)
	}

	if err := writePID(f); err != nil {
		f.Close()

		return nil, err
	}

	return &runLock{path: path, f: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock.
func (l *runLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("PID file %s does not hold a PID: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalRun delivers sig to the process holding path. A PID file left by a
// dead process is removed and reported as errNotRunning.
func signalRun(path string, sig syscall.Signal) error {
	pid, err := readPID(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w (no PID file at %s)", errNotRunning, path)
	}

	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return fmt.Errorf("%w (PID %d is gone, removed %s)", errNotRunning, pid, path)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signaling PID %d: %w", pid, err)
	}

	return nil
}
