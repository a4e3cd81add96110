package main

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "luaidle version "+version)
}

func TestLoadConfigFlagOverridesEnv(t *testing.T) {
	t.Setenv("LUAIDLE_SCRIPT", "from_env.lua")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", "from_flag.lua"}))
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from_flag.lua", cfg.Script.Path)

	cmd = newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from_env.lua", cfg.Script.Path)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("LUAIDLE_BACKEND", "mir")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestStopAndReloadWithoutDaemon(t *testing.T) {
	t.Setenv("LUAIDLE_PID_FILE", filepath.Join(t.TempDir(), "luaidle.pid"))

	out, err := execute(t, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")

	_, err = execute(t, "reload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestHistoryOnEmptyJournal(t *testing.T) {
	t.Setenv("LUAIDLE_DB_PATH", filepath.Join(t.TempDir(), "journal.db"))

	out, err := execute(t, "history", "week")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = execute(t, "history", "decade")
	assert.Error(t, err)
}

func TestRootRejectsArguments(t *testing.T) {
	_, err := execute(t, "unexpected")
	assert.Error(t, err)
}

type countingReloader struct{ n atomic.Int32 }

func (r *countingReloader) RequestReload() { r.n.Add(1) }

func TestHangupDuringStartupIsHandled(t *testing.T) {
	hup := installHangup()
	defer signal.Stop(hup)

	// with the handler installed the signal is delivered instead of killing the process
	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGHUP))
	require.Eventually(t, func() bool { return len(hup) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	r := &countingReloader{}
	done := make(chan struct{})
	go func() {
		reloadOnHangup(ctx, hup, r, zaptest.NewLogger(t))
		close(done)
	}()

	require.Eventually(t, func() bool { return len(hup) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, r.n.Load(), "the startup signal is discarded")

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGHUP))
	require.Eventually(t, func() bool { return r.n.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
