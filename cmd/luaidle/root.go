package main

import (
	"github.com/spf13/cobra"

	"github.com/luaidle/luaidle/internal/config"
)

var scriptFlag string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Idle monitor that runs Lua callbacks and locks the session",
		Long: `luaidle watches the session for inactivity through the Wayland
ext-idle-notify protocol (or the X11 screensaver extension) and calls the
functions registered by the user script. The lock program is started on
every idle transition, never more than one instance at a time.

Environment Variables:
  LUAIDLE_LOCK_COMMAND       Lock program command line (default "swaylock -f")
  LUAIDLE_BACKEND            auto, wayland or x11
  LUAIDLE_SEAT               Wayland seat name
  LUAIDLE_POLL_INTERVAL      X11 idle poll interval
  LUAIDLE_CALLBACK_TIMEOUT   Limit on a single script callback (0 disables)
  LUAIDLE_DB_PATH            Journal database file path
  LUAIDLE_PID_FILE           PID file path
  LUAIDLE_LOG_LEVEL          debug, info, warn or error
  LUAIDLE_LOG_FILE           Rotated JSON log file
  LUAIDLE_WEB_ADDR           Status server address (empty disables)
  LUAIDLE_LOCK_BEFORE_SLEEP  Lock when logind prepares for sleep (true/false)
  LUAIDLE_WATCH              Reload when the script changes (true/false)`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	root.SetVersionTemplate("luaidle version {{.Version}}\n")
	root.Flags().StringVarP(&scriptFlag, "config", "c", config.DefaultScriptName,
		"Lua script path, relative paths resolve inside the config directory")

	root.AddCommand(
		newStopCmd(),
		newStatusCmd(),
		newReloadCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig builds the configuration from defaults and LUAIDLE_* variables.
// An explicit --config overrides LUAIDLE_SCRIPT.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.New()
	if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
		cfg.Script.Path = scriptFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
