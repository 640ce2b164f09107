package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"actlog/internal/daemonctl"
	"actlog/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the activity log daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				ConfigPath:  existingConfigPath(ctx),
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Debug logging with source locations")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cfg, timeout, force)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon (pid %d) killed after %s\n", result.PID, timeout)
				return nil
			}
			fmt.Fprintf(out, "Daemon (pid %d) stopped\n", result.PID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Time to wait for the queue to drain before giving up")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL if the daemon has not exited after --timeout")
	return cmd
}

// existingConfigPath returns the loaded config path only when the file
// exists, so the daemon does not watch a path that was never written.
func existingConfigPath(ctx *commandContext) string {
	if !ctx.configExists {
		return ""
	}
	return ctx.configPath
}
