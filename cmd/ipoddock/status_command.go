package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ipoddock/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, player and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.requireAPI(nil)
			if err != nil {
				return err
			}
			st, err := client.Status(commandCtx(cmd))
			if err != nil {
				return wrapAPIError(err)
			}
			if asJSON {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, st, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func renderStatus(out io.Writer, st api.DaemonStatus, colorize bool) {
	lines := renderSectionHeader("Daemon", colorize)
	daemonMsg := fmt.Sprintf("pid %d", st.PID)
	daemonKind := statusOK
	if !st.Running {
		daemonKind = statusWarn
		daemonMsg = "stopped"
	}
	lines = append(lines,
		renderStatusLine("Daemon", daemonKind, daemonMsg, colorize),
		renderStatusLine("Queue DB", statusInfo, st.QueueDBPath, colorize),
	)

	conn := st.Connection.State
	if st.Connection.MountPoint != "" {
		conn += " at " + st.Connection.MountPoint
	}
	if st.Connection.LastError != "" {
		conn += " (" + st.Connection.LastError + ")"
	}
	lines = append(lines, renderStatusLine("Player", connectionKind(st.Connection.State), conn, colorize))

	syncMsg := st.SyncState
	if st.SyncRunning {
		syncMsg += " (session running)"
	}
	lines = append(lines, renderStatusLine("Sync", statusInfo, syncMsg, colorize))

	queueMsg := fmt.Sprintf("%d pending (%d adds, %d deletes, %s)", st.Queue.Pending, st.Queue.Adds, st.Queue.Deletes, humanBytes(st.Queue.Bytes))
	queueKind := statusOK
	if st.Queue.Pending > 0 {
		queueKind = statusInfo
	}
	lines = append(lines, renderStatusLine("Queue", queueKind, queueMsg, colorize))
	if st.Queue.Failures > 0 {
		lines = append(lines, renderStatusLine("Failures", statusWarn, strconv.Itoa(st.Queue.Failures)+" logged; see `ipoddock queue failures`", colorize))
	}

	if last := st.LastSession; last != nil {
		msg := last.Summary
		if last.FinishedAt != "" {
			msg += " at " + last.FinishedAt
		}
		if last.Error != "" {
			msg += ": " + last.Error
		}
		kind := statusOK
		switch {
		case last.Error != "":
			kind = statusError
		case last.Failed > 0 || last.Evicted > 0 || last.UnmountError != "":
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last sync", kind, msg, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range st.Dependencies {
		kind := statusOK
		msg := dep.Command
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			msg = strings.TrimSpace(dep.Detail)
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, msg, colorize))
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}
