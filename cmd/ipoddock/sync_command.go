package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"ipoddock/internal/api"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var async bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the queue to the player now",
		RunE: func(cmd *cobra.Command, args []string) error {
			// A waited sync lasts as long as the session; the command
			// context bounds it instead of a client timeout.
			client, err := ctx.requireAPI(&http.Client{})
			if err != nil {
				return err
			}
			resp, err := client.Sync(commandCtx(cmd), !async)
			if err != nil {
				return wrapAPIError(err)
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if async {
				if resp.Started {
					fmt.Fprintln(out, "Sync started")
				} else {
					fmt.Fprintln(out, "Sync already in progress")
				}
				return nil
			}
			if resp.Result == nil {
				fmt.Fprintln(out, "Sync already in progress")
				return nil
			}
			renderSessionResult(out, *resp.Result, shouldColorize(out))
			if resp.Result.Error != "" {
				return fmt.Errorf("sync failed: %s", resp.Result.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Return as soon as the session starts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the response as JSON")
	return cmd
}

func renderSessionResult(out io.Writer, res api.SessionResult, colorize bool) {
	outcome := "committed"
	switch {
	case res.Coalesced:
		outcome = "coalesced"
	case res.Empty:
		outcome = "empty"
	case res.Error != "":
		outcome = "failed"
	case !res.Committed:
		outcome = "no_changes"
	}
	fmt.Fprintln(out, renderStatusLine("Sync", sessionKind(outcome), res.Summary, colorize))
	if res.UnmountError != "" {
		fmt.Fprintln(out, renderStatusLine("Unmount", statusError, res.UnmountError+"; the player may still be mounted", colorize))
	}
	if len(res.Items) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Items))
	for _, item := range res.Items {
		note := item.Error
		if item.Retained && note == "" {
			note = "kept for next sync"
		}
		rows = append(rows, []string{shortID(item.ItemID), item.Kind, item.Name, item.Status, item.TrackID, note})
	}
	fmt.Fprintln(out, renderTable(
		[]column{col("ID"), col("Kind"), wideCol("Name", 48), col("Status"), col("Track"), wideCol("Note", 60)},
		rows,
		"",
	))
}
