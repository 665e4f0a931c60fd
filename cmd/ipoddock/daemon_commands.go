package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ipoddock/internal/daemonctl"
	"ipoddock/internal/daemonrun"
)

const (
	startWaitTimeout = 15 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newDaemonRunCommand(ctx),
		newStartCommand(ctx),
		newStopCommand(ctx),
	}
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(commandCtx(cmd), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.requireAPI(nil)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			res, err := daemonctl.EnsureStarted(commandCtx(cmd), client, exe, daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}, startWaitTimeout)
			if err != nil {
				return wrapAPIError(err)
			}
			out := cmd.OutOrStdout()
			switch res.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", res.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", res.PID)
			}
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.requireAPI(nil)
			if err != nil {
				return err
			}
			grace := cfg.CleanupTimeout() + 5*time.Second
			res, err := daemonctl.StopAndTerminate(commandCtx(cmd), client, grace)
			out := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return wrapAPIError(err)
			}
			if res.ForcedKill {
				fmt.Fprintf(out, "Daemon (pid %d) did not stop in %s and was killed\n", res.PID, grace)
				return nil
			}
			fmt.Fprintf(out, "Daemon (pid %d) stopped\n", res.PID)
			return nil
		},
	}
}
