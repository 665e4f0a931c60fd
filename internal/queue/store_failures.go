package queue

import (
	"context"
	"strings"
	"time"

	"ipoddock/internal/services"
)

// RecordFailure appends item to the failure log with reason.
func (s *Store) RecordFailure(ctx context.Context, item *Item, reason string) error {
	if item == nil {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown failure"
	}
	var enqueued any
	if !item.EnqueuedAt.IsZero() {
		enqueued = formatTime(item.EnqueuedAt)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO failures (item_id, kind, name, reason, attempts, enqueued_at, failed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Kind,
		nullableString(item.DisplayName()),
		reason,
		item.Attempts,
		enqueued,
		formatTime(time.Now()),
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "queue", "record failure", "", err)
	}
	return nil
}

// ListFailures returns the most recent failures first. limit <= 0 returns all.
func (s *Store) ListFailures(ctx context.Context, limit int) ([]*Failure, error) {
	ctx = ensureContext(ctx)
	query := "SELECT id, item_id, kind, name, reason, attempts, enqueued_at, failed_at FROM failures ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "list failures", "", err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrStorage, "queue", "list failures", "scan row", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "list failures", "iterate rows", err)
	}
	return out, nil
}

// ClearFailures empties the failure log.
func (s *Store) ClearFailures(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM failures")
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "queue", "clear failures", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "queue", "clear failures", "rows affected", err)
	}
	return n, nil
}
