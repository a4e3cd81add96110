package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/luaidle/luaidle/internal/config"
	"github.com/luaidle/luaidle/internal/daemon"
	"github.com/luaidle/luaidle/internal/database"
	"github.com/luaidle/luaidle/internal/reporter"
	"github.com/luaidle/luaidle/pkg/detector"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := daemon.New(config.New().Daemon.PIDFile)

			running, pid, err := dm.IsRunning()
			if err != nil {
				return err
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stopping daemon (PID: %d)...\n", pid)
			if err := dm.Stop(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New()
			out := cmd.OutOrStdout()

			running, pid, err := daemon.New(cfg.Daemon.PIDFile).IsRunning()
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintf(out, "Status: Running (PID: %d)\n", pid)
			} else {
				fmt.Fprintln(out, "Status: Not running")
			}

			fmt.Fprintf(out, "Display server: %s\n", detector.DetectDisplayServer())
			if path, err := cfg.ResolveScriptPath(); err == nil {
				fmt.Fprintf(out, "Script: %s\n", path)
			}
			fmt.Fprintf(out, "Lock command: %s\n", cfg.Lock.Command)
			if cfg.Web.Addr != "" {
				fmt.Fprintf(out, "Status server: http://%s\n", cfg.Web.Addr)
			}
			return nil
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := daemon.New(config.New().Daemon.PIDFile).Reload()
			if err != nil {
				if errors.Is(err, daemon.ErrNotRunning) {
					return errors.New("daemon is not running")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reload requested (PID: %d)\n", pid)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "history [day|week|month]",
		Short:     "Summarise idle transitions and lock runs",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			period := "day"
			if len(args) == 1 {
				period = args[0]
			}

			db, err := database.Connect(config.New().Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				return err
			}

			rep := reporter.New(database.NewRepository(db))
			report, err := rep.GenerateReport(period)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.FormatReportText(report))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "luaidle version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}
}
