package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ipoddock/internal/fileutil"
	"ipoddock/internal/services"
	"ipoddock/internal/textutil"
)

// Enqueue accepts an item. For adds, payload is streamed to a temp file in
// the staging directory, fsynced and renamed before the manifest row is
// inserted; the item is only durable once Enqueue returns nil.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest, payload io.Reader) (*Item, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch req.Kind {
	case KindAdd:
		return s.enqueueAdd(ctx, req, payload)
	case KindDelete:
		return s.enqueueDelete(ctx, req)
	default:
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", fmt.Sprintf("unknown kind %q", req.Kind), nil)
	}
}

// EnqueueFile is Enqueue for a file on local disk. OriginalName defaults to
// the file's base name.
func (s *Store) EnqueueFile(ctx context.Context, req EnqueueRequest, path string) (*Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "open source file", err)
	}
	defer f.Close()
	if req.Kind == "" {
		req.Kind = KindAdd
	}
	if strings.TrimSpace(req.OriginalName) == "" {
		req.OriginalName = filepath.Base(path)
	}
	return s.Enqueue(ctx, req, f)
}

func (s *Store) enqueueAdd(ctx context.Context, req EnqueueRequest, payload io.Reader) (*Item, error) {
	if payload == nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "add requires a payload", nil)
	}
	originalName := textutil.SanitizeFileName(filepath.Base(req.OriginalName))
	if originalName == "" || originalName == "." {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "add requires a file name", nil)
	}
	category := req.Category
	if category == "" {
		category = CategoryMusic
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "", err)
	}
	metadataJSON, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "encode metadata", err)
	}

	id := uuid.NewString()
	stagedName := id + stagedExtension(originalName)
	stagedPath := filepath.Join(s.stagingDir, stagedName)

	size, err := fileutil.WriteFileAtomic(stagedPath, payload, 0o644)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "enqueue", "stage payload", err)
	}
	if size == 0 {
		_ = s.removeStaged(stagedName)
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "payload is empty", nil)
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO queue_items (
            id, kind, staged_name, original_name, category, playlist,
            metadata_json, size_bytes, enqueued_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		KindAdd,
		stagedName,
		originalName,
		category,
		nullableString(strings.TrimSpace(req.Playlist)),
		metadataJSON,
		size,
		formatTime(time.Now()),
	)
	if err != nil {
		_ = s.removeStaged(stagedName)
		return nil, services.Wrap(services.ErrStorage, "queue", "enqueue", "insert manifest row", err)
	}
	return s.mustGet(ctx, id)
}

func (s *Store) enqueueDelete(ctx context.Context, req EnqueueRequest) (*Item, error) {
	trackID := strings.TrimSpace(req.TrackID)
	if trackID == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "delete requires a track id", nil)
	}
	id := uuid.NewString()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO queue_items (id, kind, track_id, enqueued_at) VALUES (?, ?, ?, ?)`,
		id,
		KindDelete,
		trackID,
		formatTime(time.Now()),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "enqueue", "insert manifest row", err)
	}
	return s.mustGet(ctx, id)
}

func (s *Store) mustGet(ctx context.Context, id string) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "enqueue", "inserted row not found", nil)
	}
	return item, nil
}

// Get fetches a single item. A missing id returns (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM queue_items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "get", "", err)
	}
	return item, nil
}

// ListPending returns every queued item in FIFO order.
func (s *Store) ListPending(ctx context.Context) ([]*Item, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM queue_items ORDER BY seq ASC")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "list", "", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "queue", "list", "scan row", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "list", "iterate rows", err)
	}
	return items, nil
}

// Remove deletes the item's row and then its staged file. Removing an
// unknown id is not an error; the bool reports whether a row was deleted.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	item, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	res, err := s.execWithRetry(ctx, "DELETE FROM queue_items WHERE id = ?", id)
	if err != nil {
		return false, services.Wrap(services.ErrStorage, "queue", "remove", "", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, services.Wrap(services.ErrStorage, "queue", "remove", "rows affected", err)
	}
	// A crash between the two steps leaves an orphan that PruneOrphans collects.
	if err := s.removeStaged(item.StagedName); err != nil {
		return affected > 0, services.Wrap(services.ErrStorage, "queue", "remove", "delete staged file", err)
	}
	return affected > 0, nil
}

// Clear removes every pending item and its staged file. Items enqueued while
// Clear runs are kept.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	items, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return s.clearListed(ctx, items)
}

// clearListed deletes the rows of items and their staged files. seq is
// AUTOINCREMENT, so bounding the delete by the highest listed seq leaves
// rows inserted after the listing alone.
func (s *Store) clearListed(ctx context.Context, items []*Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var maxSeq int64
	for _, item := range items {
		maxSeq = max(maxSeq, item.Seq)
	}
	res, err := s.execWithRetry(ctx, "DELETE FROM queue_items WHERE seq <= ?", maxSeq)
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "queue", "clear", "", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "queue", "clear", "rows affected", err)
	}
	var fileErr error
	for _, item := range items {
		if err := s.removeStaged(item.StagedName); err != nil && fileErr == nil {
			fileErr = err
		}
	}
	if fileErr != nil {
		return affected, services.Wrap(services.ErrStorage, "queue", "clear", "delete staged files", fileErr)
	}
	return affected, nil
}

// IncrementAttempts bumps the attempt counter on ids and records reason as
// their last error.
func (s *Store) IncrementAttempts(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, nullableString(reason))
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"UPDATE queue_items SET attempts = attempts + 1, last_error = ? WHERE id IN (%s)",
		makePlaceholders(len(ids)),
	)
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return services.Wrap(services.ErrStorage, "queue", "increment attempts", "", err)
	}
	return nil
}

// Stats summarizes pending items and the failure log.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var stats Stats
	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM queue_items GROUP BY kind")
	if err != nil {
		return stats, services.Wrap(services.ErrStorage, "queue", "stats", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  string
			count int
			bytes int64
		)
		if err := rows.Scan(&kind, &count, &bytes); err != nil {
			return stats, services.Wrap(services.ErrStorage, "queue", "stats", "scan row", err)
		}
		switch Kind(kind) {
		case KindAdd:
			stats.Adds = count
		case KindDelete:
			stats.Deletes = count
		}
		stats.Pending += count
		stats.Bytes += bytes
	}
	if err := rows.Err(); err != nil {
		return stats, services.Wrap(services.ErrStorage, "queue", "stats", "iterate rows", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM failures").Scan(&stats.Failures); err != nil {
		return stats, services.Wrap(services.ErrStorage, "queue", "stats", "count failures", err)
	}
	return stats, nil
}
