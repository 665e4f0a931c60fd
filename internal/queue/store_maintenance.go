package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CheckHealth returns diagnostic information about the queue database and
// the staging directory.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{
		DBPath:     s.path,
		StagingDir: s.stagingDir,
	}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "PRAGMA user_version").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	items, err := s.ListPending(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.TotalItems = len(items)

	known := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.Kind != KindAdd {
			continue
		}
		known[item.StagedName] = struct{}{}
		if _, err := os.Stat(filepath.Join(s.stagingDir, item.StagedName)); err != nil {
			health.MissingStaged++
		}
	}

	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read staging dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		health.StagedFiles++
		if _, ok := known[entry.Name()]; !ok {
			health.OrphanedFiles++
		}
	}

	return health, nil
}

// PruneOrphans deletes staged files with no manifest row, including temp
// files from interrupted enqueues. Files younger than orphanGracePeriod are
// skipped: they may belong to an Enqueue still in flight.
func (s *Store) PruneOrphans(ctx context.Context) (int, error) {
	items, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.StagedName != "" {
			known[item.StagedName] = struct{}{}
		}
	}

	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}
	cutoff := time.Now().Add(-orphanGracePeriod)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := known[name]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.stagingDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove orphan %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

const orphanGracePeriod = time.Minute
