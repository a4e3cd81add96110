package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDaemon(t *testing.T) *Daemon {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "luaidle.pid"))
}

func TestPIDRoundTrip(t *testing.T) {
	d := newDaemon(t)

	pid, err := d.ReadPID()
	require.NoError(t, err)
	assert.Zero(t, pid, "missing file reads as no pid")

	require.NoError(t, d.WritePID())
	pid, err = d.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, d.RemovePID())
	require.NoError(t, d.RemovePID(), "removing twice is fine")
}

func TestInvalidPID(t *testing.T) {
	d := newDaemon(t)
	require.NoError(t, os.WriteFile(d.pidFile, []byte("garbage"), 0644))

	_, err := d.ReadPID()
	assert.Error(t, err)
}

func TestIsRunningSelf(t *testing.T) {
	d := newDaemon(t)
	require.NoError(t, d.WritePID())

	running, pid, err := d.IsRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestStalePIDFileIsRemoved(t *testing.T) {
	d := newDaemon(t)
	require.NoError(t, os.WriteFile(d.pidFile, []byte(strconv.Itoa(deadPID(t))), 0644))

	running, _, err := d.IsRunning()
	require.NoError(t, err)
	assert.False(t, running)

	_, err = os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquire(t *testing.T) {
	d := newDaemon(t)
	require.NoError(t, d.Acquire())
	require.NoError(t, d.Acquire(), "re-acquiring our own pid file succeeds")

	other := New(d.pidFile)
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	require.NoError(t, os.WriteFile(d.pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644))

	err := other.Acquire()
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

func TestStopNotRunning(t *testing.T) {
	d := newDaemon(t)
	assert.True(t, errors.Is(d.Stop(), ErrNotRunning))

	_, err := d.Reload()
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestStopSignalsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	// reap the child so the liveness check sees it disappear
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	d := newDaemon(t)
	require.NoError(t, os.WriteFile(d.pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644))

	require.NoError(t, d.Stop())
	require.Error(t, <-exited, "sleep must be terminated by SIGTERM")

	_, statErr := os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(statErr), "file naming the exited process is removed")
}

func TestStopTimesOut(t *testing.T) {
	// ignores SIGTERM
	cmd := exec.Command("sh", "-c", "trap '' TERM; exec sleep 30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	time.Sleep(100 * time.Millisecond)

	d := newDaemon(t)
	d.stopTimeout = 200 * time.Millisecond
	require.NoError(t, os.WriteFile(d.pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644))

	err := d.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not exit")

	pid, err := d.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pid, "a daemon still shutting down keeps its file")
}

func TestReleaseKeepsSuccessorFile(t *testing.T) {
	old := newDaemon(t)
	require.NoError(t, old.Acquire())

	// the old daemon is stopping while a new one starts
	successor := exec.Command("sleep", "30")
	require.NoError(t, successor.Start())
	defer func() {
		_ = successor.Process.Kill()
		_ = successor.Wait()
	}()
	require.NoError(t, os.WriteFile(old.pidFile, []byte(strconv.Itoa(successor.Process.Pid)), 0644))

	require.NoError(t, old.Release())

	running, pid, err := New(old.pidFile).IsRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, successor.Process.Pid, pid)
}

func TestReleaseRemovesOwnFile(t *testing.T) {
	d := newDaemon(t)
	require.NoError(t, d.Acquire())
	require.NoError(t, d.Release())

	_, err := os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, d.Release(), "releasing without a file is fine")
}
