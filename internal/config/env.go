package config

import (
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LUAIDLE"

// env keys bound to LUAIDLE_* variables
var envKeys = map[string]string{
	"script.path":             "LUAIDLE_SCRIPT",
	"script.callback_timeout": "LUAIDLE_CALLBACK_TIMEOUT",
	"lock.command":            "LUAIDLE_LOCK_COMMAND",
	"backend.preferred":       "LUAIDLE_BACKEND",
	"backend.seat":            "LUAIDLE_SEAT",
	"backend.poll_interval":   "LUAIDLE_POLL_INTERVAL",
	"database.path":           "LUAIDLE_DB_PATH",
	"daemon.pid_file":         "LUAIDLE_PID_FILE",
	"log.level":               "LUAIDLE_LOG_LEVEL",
	"log.file":                "LUAIDLE_LOG_FILE",
	"web.addr":                "LUAIDLE_WEB_ADDR",
	"sleep.lock_before_sleep": "LUAIDLE_LOCK_BEFORE_SLEEP",
	"watch.enabled":           "LUAIDLE_WATCH",
}

// LoadFromEnv loads configuration from environment variables
// Environment variables override default values
func LoadFromEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
	loadFromViper(v, cfg)
}

func loadFromViper(v *viper.Viper, cfg *Config) {
	if v.IsSet("script.path") {
		cfg.Script.Path = v.GetString("script.path")
	}
	if v.IsSet("script.callback_timeout") {
		if d := parseDuration(v.GetString("script.callback_timeout")); d >= 0 {
			cfg.Script.CallbackTimeout = d
		}
	}

	if v.IsSet("lock.command") {
		cfg.Lock.Command = v.GetString("lock.command")
	}

	if v.IsSet("backend.preferred") {
		cfg.Backend.Preferred = v.GetString("backend.preferred")
	}
	if v.IsSet("backend.seat") {
		cfg.Backend.Seat = v.GetString("backend.seat")
	}
	if v.IsSet("backend.poll_interval") {
		if d := parseDuration(v.GetString("backend.poll_interval")); d > 0 {
			cfg.Backend.PollInterval = d
		}
	}

	if v.IsSet("database.path") {
		cfg.Database.Path = v.GetString("database.path")
	}

	if v.IsSet("daemon.pid_file") {
		cfg.Daemon.PIDFile = v.GetString("daemon.pid_file")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.file") {
		cfg.Log.File = v.GetString("log.file")
	}

	if v.IsSet("web.addr") {
		cfg.Web.Addr = v.GetString("web.addr")
	}

	if v.IsSet("sleep.lock_before_sleep") {
		cfg.Sleep.LockBeforeSleep = v.GetBool("sleep.lock_before_sleep")
	}

	if v.IsSet("watch.enabled") {
		cfg.Watch.Enabled = v.GetBool("watch.enabled")
	}
}

// parseDuration accepts Go durations ("30s") or plain seconds ("30").
// It returns -1 when the value is unparseable.
func parseDuration(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(s); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return -1
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
