package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ipoddock/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, binaries and the player before running the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(commandCtx(cmd), cfg)
			lines := renderSectionHeader("Preflight", colorize)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			probe := preflight.ProbeDevice(commandCtx(cmd), cfg)
			playerKind := statusOK
			if !probe.Detected {
				playerKind = statusWarn
			}
			lines = append(lines, renderStatusLine("Player", playerKind, probe.DeviceDetail(), colorize))
			fmt.Fprintln(out, strings.Join(lines, "\n"))

			if preflight.Failed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}
