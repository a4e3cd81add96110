package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrAlreadyRunning = errors.New("daemon: already running")
	ErrNotRunning     = errors.New("daemon: not running")
)

// DefaultStopTimeout bounds how long Stop waits for the daemon to exit
const DefaultStopTimeout = 10 * time.Second

type Daemon struct {
	pidFile     string
	stopTimeout time.Duration
}

func New(pidFile string) *Daemon {
	return &Daemon{pidFile: pidFile, stopTimeout: DefaultStopTimeout}
}

// Acquire writes the current pid unless a live daemon already owns the file
func (d *Daemon) Acquire() error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if running && pid != os.Getpid() {
		return errors.Wrapf(ErrAlreadyRunning, "pid %d (%s)", pid, d.pidFile)
	}
	return d.WritePID()
}

func (d *Daemon) WritePID() error {
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, fmt.Appendf([]byte{}, "%d", pid), 0644); err != nil {
		return errors.Wrap(err, "failed to write PID file")
	}
	return nil
}

func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read PID file")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, "invalid PID in file")
	}

	return pid, nil
}

func (d *Daemon) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// Release removes the PID file if it still names this process. A successor
// that has already written its own pid keeps its file.
func (d *Daemon) Release() error {
	return d.removeIfOwnedBy(os.Getpid())
}

func (d *Daemon) removeIfOwnedBy(pid int) error {
	current, err := d.ReadPID()
	if err != nil {
		return err
	}
	if current != pid {
		return nil
	}
	return d.RemovePID()
}

// IsRunning checks the recorded pid with signal 0. A stale file is removed.
func (d *Daemon) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		return false, 0, err
	}

	if pid <= 0 {
		return false, 0, nil
	}

	if !alive(pid) {
		_ = d.RemovePID()
		return false, 0, nil
	}

	return true, pid, nil
}

// alive checks pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// Stop sends SIGTERM and waits for the daemon to exit. The PID file is left
// to the exiting daemon; it is only removed here when the process is gone
// and the file still names it.
func (d *Daemon) Stop() error {
	pid, err := d.signal(unix.SIGTERM)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(d.stopTimeout)
	for alive(pid) {
		if time.Now().After(deadline) {
			return errors.Errorf("daemon (pid %d) did not exit within %v", pid, d.stopTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return d.removeIfOwnedBy(pid)
}

// Reload sends SIGHUP, which makes the daemon reload its script
func (d *Daemon) Reload() (int, error) {
	return d.signal(unix.SIGHUP)
}

func (d *Daemon) signal(sig unix.Signal) (int, error) {
	running, pid, err := d.IsRunning()
	if err != nil {
		return 0, errors.Wrap(err, "error checking daemon status")
	}

	if !running {
		return 0, errors.Wrap(ErrNotRunning, "daemon is not running or PID file is stale")
	}

	if err := unix.Kill(pid, sig); err != nil {
		if err == unix.ESRCH {
			_ = d.RemovePID()
			return 0, errors.Wrap(ErrNotRunning, "daemon process already terminated")
		}
		return 0, errors.Wrapf(err, "failed to send %s", unix.SignalName(sig))
	}

	return pid, nil
}
