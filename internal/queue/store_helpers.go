package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const itemColumns = "seq, id, kind, staged_name, original_name, category, playlist, metadata_json, size_bytes, track_id, enqueued_at, attempts, last_error"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		seq          int64
		id           string
		kind         string
		stagedName   sql.NullString
		originalName sql.NullString
		category     sql.NullString
		playlist     sql.NullString
		metadataRaw  sql.NullString
		sizeBytes    int64
		trackID      sql.NullString
		enqueuedRaw  string
		attempts     int
		lastError    sql.NullString
	)

	if err := scanner.Scan(
		&seq,
		&id,
		&kind,
		&stagedName,
		&originalName,
		&category,
		&playlist,
		&metadataRaw,
		&sizeBytes,
		&trackID,
		&enqueuedRaw,
		&attempts,
		&lastError,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		Seq:          seq,
		Kind:         Kind(kind),
		StagedName:   stagedName.String,
		OriginalName: originalName.String,
		Category:     Category(category.String),
		Playlist:     playlist.String,
		SizeBytes:    sizeBytes,
		TrackID:      trackID.String,
		Attempts:     attempts,
		LastError:    lastError.String,
	}
	if metadataRaw.Valid && metadataRaw.String != "" {
		// Malformed overrides degrade to none rather than hiding the item.
		_ = json.Unmarshal([]byte(metadataRaw.String), &item.Metadata)
	}
	if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
		item.EnqueuedAt = enqueued
	}
	return item, nil
}

func scanFailure(scanner interface{ Scan(dest ...any) error }) (*Failure, error) {
	var (
		f           Failure
		kind        string
		name        sql.NullString
		enqueuedRaw sql.NullString
		failedRaw   string
	)
	if err := scanner.Scan(&f.ID, &f.ItemID, &kind, &name, &f.Reason, &f.Attempts, &enqueuedRaw, &failedRaw); err != nil {
		return nil, err
	}
	f.Kind = Kind(kind)
	f.Name = name.String
	if t, err := parseTimeString(enqueuedRaw.String); err == nil {
		f.EnqueuedAt = t
	}
	if t, err := parseTimeString(failedRaw); err == nil {
		f.FailedAt = t
	}
	return &f, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func encodeMetadata(meta Metadata) (any, error) {
	if meta.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
