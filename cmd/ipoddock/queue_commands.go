package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ipoddock/internal/api"
	"ipoddock/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the pending sync queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueDeleteCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueFailuresCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending items in sync order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				items, err := access.List(commandCtx(cmd))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderQueueTable(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	return cmd
}

func renderQueueTable(items []api.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		size := ""
		if item.SizeBytes > 0 {
			size = humanBytes(item.SizeBytes)
		}
		attempts := ""
		if item.Attempts > 0 {
			attempts = strconv.Itoa(item.Attempts)
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.Seq, 10),
			shortID(item.ID),
			item.Kind,
			item.Name,
			item.Category,
			item.Playlist,
			size,
			attempts,
		})
	}
	return renderTable(
		[]column{
			numCol("#"), col("ID"), col("Kind"), wideCol("Name", 48),
			col("Category"), wideCol("Playlist", 24), numCol("Size"), numCol("Attempts"),
		},
		rows,
		fmt.Sprintf("%d item(s)", len(items)),
	)
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var opts api.UploadOptions
	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue audio files for the player",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				out := cmd.OutOrStdout()
				var failed []string
				for _, path := range args {
					item, err := access.Add(commandCtx(cmd), path, opts)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
						failed = append(failed, path)
						continue
					}
					fmt.Fprintf(out, "Queued %s as %s (%s)\n", item.Name, shortID(item.ID), item.Category)
				}
				if !access.Remote() {
					fmt.Fprintln(out, "Daemon not running; items will sync when it starts")
				}
				if len(failed) > 0 {
					return fmt.Errorf("%d of %d files not queued", len(failed), len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Category, "category", "", "Category: music, audiobook or podcast")
	cmd.Flags().StringVar(&opts.Playlist, "playlist", "", "Playlist to add the tracks to")
	cmd.Flags().StringVar(&opts.Metadata.Title, "title", "", "Override the track title")
	cmd.Flags().StringVar(&opts.Metadata.Artist, "artist", "", "Override the artist")
	cmd.Flags().StringVar(&opts.Metadata.Album, "album", "", "Override the album")
	cmd.Flags().StringVar(&opts.Metadata.Genre, "genre", "", "Override the genre")
	cmd.Flags().IntVar(&opts.Metadata.TrackNumber, "track-number", 0, "Override the track number")
	return cmd
}

func newQueueDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <track-id>",
		Short: "Queue removal of a track from the player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				item, err := access.Delete(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued delete of track %s as %s\n", item.TrackID, shortID(item.ID))
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop a pending item without syncing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				id, err := resolveItemID(cmd, access, args[0])
				if err != nil {
					return err
				}
				removed, err := access.Remove(commandCtx(cmd), id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("queue item %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", shortID(id))
				return nil
			})
		},
	}
}

// resolveItemID expands a unique id prefix, as printed by `queue list`, to
// the full item id.
func resolveItemID(cmd *cobra.Command, access queueaccess.Access, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("item id is required")
	}
	items, err := access.List(commandCtx(cmd))
	if err != nil {
		return "", err
	}
	var matches []string
	for _, item := range items {
		if item.ID == prefix {
			return item.ID, nil
		}
		if strings.HasPrefix(item.ID, prefix) {
			matches = append(matches, item.ID)
		}
	}
	switch len(matches) {
	case 0:
		return prefix, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending item",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				if !access.Remote() {
					held, err := daemonLockHeld(cfg)
					if err != nil {
						return err
					}
					if held {
						return errors.New("daemon holds the queue lock but its api is unreachable; refusing to clear behind its back")
					}
				}
				removed, err := access.Clear(commandCtx(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueFailuresCommand(ctx *commandContext) *cobra.Command {
	var clearLog bool
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Show items dropped after failing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				out := cmd.OutOrStdout()
				if clearLog {
					removed, err := access.ClearFailures(commandCtx(cmd))
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failure record(s)\n", removed)
					return nil
				}
				failures, err := access.Failures(commandCtx(cmd), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, failures)
				}
				if len(failures) == 0 {
					fmt.Fprintln(out, "No failures recorded")
					return nil
				}
				rows := make([][]string, 0, len(failures))
				for _, f := range failures {
					rows = append(rows, []string{f.FailedAt, f.Kind, f.Name, strconv.Itoa(f.Attempts), f.Reason})
				}
				fmt.Fprintln(out, renderTable(
					[]column{col("Failed At"), col("Kind"), wideCol("Name", 40), numCol("Attempts"), wideCol("Reason", 60)},
					rows,
					"",
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearLog, "clear", false, "Empty the failure log")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print failures as JSON")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the queue database and staging directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				health, err := access.Health(commandCtx(cmd))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := renderSectionHeader("Queue database", colorize)
				dbKind := statusOK
				if !health.DatabaseReadable || !health.IntegrityCheck {
					dbKind = statusError
				}
				lines = append(lines,
					renderStatusLine("Database", dbKind, health.DBPath, colorize),
					renderStatusLine("Schema", statusInfo, "v"+strconv.Itoa(health.SchemaVersion), colorize),
					renderStatusLine("Integrity", boolKind(health.IntegrityCheck), yesNo(health.IntegrityCheck), colorize),
					renderStatusLine("Items", statusInfo, strconv.Itoa(health.TotalItems), colorize),
					renderStatusLine("Staged files", statusInfo, strconv.Itoa(health.StagedFiles), colorize),
					renderStatusLine("Missing staged", countKind(health.MissingStaged, statusError), strconv.Itoa(health.MissingStaged), colorize),
					renderStatusLine("Orphaned files", countKind(health.OrphanedFiles, statusWarn), strconv.Itoa(health.OrphanedFiles), colorize),
				)
				if health.Error != "" {
					lines = append(lines, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				fmt.Fprintln(out, strings.Join(lines, "\n"))
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func countKind(n int, bad statusKind) statusKind {
	if n == 0 {
		return statusOK
	}
	return bad
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
