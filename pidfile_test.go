package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRunLock_WritesPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "ha-bosch.pid")

	lock, err := acquireRunLock(path)
	require.NoError(t, err)

	defer lock.Release()

	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAcquireRunLock_SecondRunRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ha-bosch.pid")

	lock, err := acquireRunLock(path)
	require.NoError(t, err)

	defer lock.Release()

	again, err := acquireRunLock(path)
	require.Error(t, err)
	assert.Nil(t, again)
	assert.Contains(t, err.Error(), "already running")
	assert.Contains(t, err.Error(), "PID "+strconv.Itoa(os.Getpid()))
}

func TestAcquireRunLock_ReleaseAllowsNextRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ha-bosch.pid")

	lock, err := acquireRunLock(path)
	require.NoError(t, err)
	lock.Release()

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	lock, err = acquireRunLock(path)
	require.NoError(t, err)
	lock.Release()
}

func TestAcquireRunLock_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := acquireRunLock("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "valid", content: "4242\n", want: 4242},
		{name: "whitespace", content: "  17 \n", want: 17},
		{name: "garbage", content: "not-a-pid\n", wantErr: true},
		{name: "zero", content: "0\n", wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "ha-bosch.pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			pid, err := readPID(path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestSignalRun_NoPIDFile(t *testing.T) {
	t.Parallel()

	err := signalRun(filepath.Join(t.TempDir(), "ha-bosch.pid"), syscall.SIGHUP)
	require.ErrorIs(t, err, errNotRunning)
}

func TestSignalRun_StalePIDFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ha-bosch.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o600))

	err := signalRun(path, syscall.SIGHUP)
	require.ErrorIs(t, err, errNotRunning)

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestSignalRun_DeliversToHolder(t *testing.T) {
	// Trap SIGHUP so the test binary survives it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	path := filepath.Join(t.TempDir(), "ha-bosch.pid")

	lock, err := acquireRunLock(path)
	require.NoError(t, err)

	defer lock.Release()

	require.NoError(t, signalRun(path, syscall.SIGHUP))

	select {
	case sig := <-sigCh:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}

func TestRefreshCmd_NoDaemon(t *testing.T) {
	tc := newTestCLI(t, "")

	_, err := tc.run(t, "", "refresh")
	require.ErrorIs(t, err, errNotRunning)
}
