package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ipoddock/internal/api"
)

func newTracksCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tracks",
		Short: "List the tracks on the player",
		Long: "List the tracks on the player.\n\n" +
			"The daemon mounts the player for the read, so this needs the player attached and no sync running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.requireAPI(nil)
			if err != nil {
				return err
			}
			tracks, err := client.Tracks(commandCtx(cmd))
			if err != nil {
				return wrapAPIError(err)
			}
			if asJSON {
				return writeJSON(cmd, tracks)
			}
			out := cmd.OutOrStdout()
			if len(tracks) == 0 {
				fmt.Fprintln(out, "No tracks on the player")
				return nil
			}
			fmt.Fprintln(out, renderTracksTable(tracks))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print tracks as JSON")
	return cmd
}

func renderTracksTable(tracks []api.Track) string {
	rows := make([][]string, 0, len(tracks))
	var total int64
	for _, t := range tracks {
		total += t.SizeBytes
		number := ""
		if t.TrackNumber > 0 {
			number = strconv.Itoa(t.TrackNumber)
		}
		rows = append(rows, []string{
			shortID(t.ID),
			t.Title,
			t.Artist,
			t.Album,
			number,
			trackLength(t.DurationMS),
			t.Category,
			strings.Join(t.Playlists, ", "),
		})
	}
	return renderTable(
		[]column{
			col("ID"), wideCol("Title", 40), wideCol("Artist", 24), wideCol("Album", 24),
			numCol("#"), numCol("Length"), col("Category"), wideCol("Playlists", 24),
		},
		rows,
		fmt.Sprintf("%d track(s), %s", len(tracks), humanBytes(total)),
	)
}

// trackLength renders milliseconds as m:ss, or "" when unknown.
func trackLength(ms int64) string {
	if ms <= 0 {
		return ""
	}
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
