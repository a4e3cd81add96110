package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	AppName           = "luaidle"
	DefaultScriptName = "idle_config.lua"
	DefaultLockCmd    = "swaylock -f"

	// MaxCallbackTimeout bounds how long a single script callback may run
	// when a timeout is configured.
	MaxCallbackTimeout = 10 * time.Minute
)

// Config holds all application configuration
type Config struct {
	// Script configuration
	Script ScriptConfig

	// Lock program configuration
	Lock LockConfig

	// Idle backend configuration
	Backend BackendConfig

	// Database configuration
	Database DatabaseConfig

	// Daemon configuration
	Daemon DaemonConfig

	// Log configuration
	Log LogConfig

	// Web status server configuration
	Web WebConfig

	// Sleep hook configuration
	Sleep SleepConfig

	// Script watch configuration
	Watch WatchConfig
}

// ScriptConfig holds the user script location and call limits
type ScriptConfig struct {
	Path            string        // Script path; relative paths resolve inside ConfigDir
	CallbackTimeout time.Duration // 0 disables the deadline on script callbacks
}

// LockConfig holds the screen-lock invocation
type LockConfig struct {
	Command string // Command line run on idle, split on whitespace
}

// BackendConfig holds idle-notification backend selection
type BackendConfig struct {
	Preferred    string        // "auto", "wayland" or "x11"
	Seat         string        // Wayland seat name; empty picks the first seat
	PollInterval time.Duration // X11 idle-time poll interval
}

// DatabaseConfig holds journal database configuration
type DatabaseConfig struct {
	Path string // Path to SQLite database file
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string
	File       string // Optional JSON log file, rotated
	MaxSizeMB  int
	MaxBackups int
}

// WebConfig holds the status server configuration
type WebConfig struct {
	Addr string // Listen address; empty disables the server
}

// SleepConfig holds the logind sleep hook configuration
type SleepConfig struct {
	LockBeforeSleep bool
}

// WatchConfig holds config script watching
type WatchConfig struct {
	Enabled bool
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Script: ScriptConfig{
			Path:            DefaultScriptName,
			CallbackTimeout: 0,
		},
		Lock: LockConfig{
			Command: DefaultLockCmd,
		},
		Backend: BackendConfig{
			Preferred:    "auto",
			PollInterval: time.Second,
		},
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/luaidle/luaidle.db
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/luaidle-%d.pid", os.Getuid()),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Web: WebConfig{
			Addr: "",
		},
		Sleep: SleepConfig{
			LockBeforeSleep: true,
		},
		Watch: WatchConfig{
			Enabled: true,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Script.Path == "" {
		return fmt.Errorf("script path cannot be empty")
	}

	if c.Script.CallbackTimeout < 0 {
		return fmt.Errorf("callback timeout cannot be negative")
	}
	if c.Script.CallbackTimeout > MaxCallbackTimeout {
		return fmt.Errorf("callback timeout (%v) cannot be greater than %v",
			c.Script.CallbackTimeout, MaxCallbackTimeout)
	}

	if len(strings.Fields(c.Lock.Command)) == 0 {
		return fmt.Errorf("lock command cannot be empty")
	}

	switch c.Backend.Preferred {
	case "auto", "wayland", "x11":
	default:
		return fmt.Errorf("backend must be auto, wayland or x11, got %q", c.Backend.Preferred)
	}

	if c.Backend.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll interval (%v) cannot be less than 100ms", c.Backend.PollInterval)
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

// ConfigDir returns the per-application configuration directory,
// $XDG_CONFIG_HOME/luaidle or ~/.config/luaidle.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, AppName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

// ResolveScriptPath returns the absolute script path. A relative path is
// taken relative to ConfigDir.
func (c *Config) ResolveScriptPath() (string, error) {
	if filepath.IsAbs(c.Script.Path) {
		return c.Script.Path, nil
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Script.Path), nil
}

// LockProgram returns the executable name of the lock command
func (c *Config) LockProgram() string {
	fields := strings.Fields(c.Lock.Command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// LockMismatch reports whether the lock program cannot run on the given
// backend. swaylock only works under a Wayland compositor.
func (c *Config) LockMismatch(backend string) bool {
	return backend == "x11" && c.LockProgram() == "swaylock"
}

// String returns a string representation of the config
func (c *Config) String() string {
	webAddr := c.Web.Addr
	if webAddr == "" {
		webAddr = "disabled"
	}

	return fmt.Sprintf(`Configuration:
  Script:
    Path: %s
    Callback Timeout: %v
  Lock:
    Command: %s
  Backend:
    Preferred: %s
    Seat: %s
    Poll Interval: %v
  Database:
    Path: %s
  Daemon:
    PID File: %s
  Log:
    Level: %s
    File: %s
  Web:
    Addr: %s
  Sleep:
    Lock Before Sleep: %v
  Watch:
    Enabled: %v`,
		c.Script.Path,
		c.Script.CallbackTimeout,
		c.Lock.Command,
		c.Backend.Preferred,
		c.Backend.Seat,
		c.Backend.PollInterval,
		c.Database.Path,
		c.Daemon.PIDFile,
		c.Log.Level,
		c.Log.File,
		webAddr,
		c.Sleep.LockBeforeSleep,
		c.Watch.Enabled,
	)
}
