package api

import (
	"time"

	"ipoddock/internal/deps"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/queue"
	"ipoddock/internal/services"
	"ipoddock/internal/status"
	"ipoddock/internal/syncer"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	dto := QueueItem{
		ID:           item.ID,
		Seq:          item.Seq,
		Kind:         string(item.Kind),
		Name:         item.DisplayName(),
		OriginalName: item.OriginalName,
		Category:     string(item.Category),
		Playlist:     item.Playlist,
		TrackID:      item.TrackID,
		SizeBytes:    item.SizeBytes,
		Attempts:     item.Attempts,
		LastError:    item.LastError,
		EnqueuedAt:   formatTime(item.EnqueuedAt),
	}
	if !item.Metadata.IsZero() {
		dto.Metadata = &Metadata{
			Title:       item.Metadata.Title,
			Artist:      item.Metadata.Artist,
			Album:       item.Metadata.Album,
			Genre:       item.Metadata.Genre,
			TrackNumber: item.Metadata.TrackNumber,
		}
	}
	return dto
}

// FromQueueItems converts a slice of queue records into API DTOs.
func FromQueueItems(items []*queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// FromTracks converts the player's track index.
func FromTracks(tracks []devicedb.Track) []Track {
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, Track{
			ID:          t.ID,
			Path:        t.Path,
			Title:       t.Title,
			Artist:      t.Artist,
			Album:       t.Album,
			Genre:       t.Genre,
			TrackNumber: t.TrackNumber,
			DurationMS:  t.DurationMS,
			Category:    t.Category,
			SizeBytes:   t.SizeBytes,
			AddedAt:     formatTime(t.AddedAt),
			Playlists:   t.Playlists,
		})
	}
	return out
}

// FromFailures converts failure log rows.
func FromFailures(failures []*queue.Failure) []Failure {
	out := make([]Failure, 0, len(failures))
	for _, f := range failures {
		if f == nil {
			continue
		}
		out = append(out, Failure{
			ID:         f.ID,
			ItemID:     f.ItemID,
			Kind:       string(f.Kind),
			Name:       f.Name,
			Reason:     f.Reason,
			Attempts:   f.Attempts,
			EnqueuedAt: formatTime(f.EnqueuedAt),
			FailedAt:   formatTime(f.FailedAt),
		})
	}
	return out
}

// FromStats converts queue statistics.
func FromStats(s queue.Stats) QueueStats {
	return QueueStats{
		Pending:  s.Pending,
		Adds:     s.Adds,
		Deletes:  s.Deletes,
		Bytes:    s.Bytes,
		Failures: s.Failures,
	}
}

// FromSessionResult converts a sync session result.
func FromSessionResult(r syncer.SessionResult) SessionResult {
	dto := SessionResult{
		ID:         r.ID,
		Reason:     r.Reason,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Summary:    r.Summary(),
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		Skipped:    r.Skipped(),
		Evicted:    r.Evicted(),
		Committed:  r.Committed,
		Coalesced:  r.Coalesced,
		Empty:      r.Empty,
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
		dto.ErrorKind = services.Classify(r.Err)
	}
	if r.UnmountErr != nil {
		dto.UnmountError = r.UnmountErr.Error()
	}
	for _, item := range r.Items {
		dto.Items = append(dto.Items, ItemOutcome{
			ItemID:   item.ItemID,
			Kind:     string(item.Kind),
			Name:     item.Name,
			Status:   string(item.Status),
			TrackID:  item.TrackID,
			Error:    item.ErrorText(),
			Retained: item.Retained,
		})
	}
	return dto
}

// FromSnapshot converts the publisher's connection state.
func FromSnapshot(s status.Snapshot) Connection {
	return Connection{
		State:      string(s.State),
		MountPoint: s.MountPoint,
		Since:      formatTime(s.Since),
		LastError:  s.LastError,
	}
}

// FromDependencies converts binary availability checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

// FromDatabaseHealth converts queue database diagnostics.
func FromDatabaseHealth(h queue.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		DBPath:           h.DBPath,
		StagingDir:       h.StagingDir,
		DatabaseExists:   h.DatabaseExists,
		DatabaseReadable: h.DatabaseReadable,
		SchemaVersion:    h.SchemaVersion,
		IntegrityCheck:   h.IntegrityCheck,
		TotalItems:       h.TotalItems,
		StagedFiles:      h.StagedFiles,
		MissingStaged:    h.MissingStaged,
		OrphanedFiles:    h.OrphanedFiles,
		Error:            h.Error,
	}
}
