package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ipoddock/internal/config"
	"ipoddock/internal/logging"
	"ipoddock/internal/services"
)

const (
	databaseFileName = "queue.db"
	stagingDirName   = "staged"
)

// Store manages queue persistence: an SQLite manifest plus a directory of
// staged payload files.
type Store struct {
	db         *sql.DB
	path       string
	stagingDir string
	logger     *slog.Logger
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// pragmas are applied to every pooled connection through the DSN, so each
// one honours busy_timeout rather than only the first.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(FULL)",
	"busy_timeout(5000)",
}

func sqliteDSN(path string, pragmas []string) string {
	values := url.Values{}
	for _, p := range pragmas {
		values.Add("_pragma", p)
	}
	return "file:" + path + "?" + values.Encode()
}

// Option customizes a Store at open time.
type Option func(*Store)

// WithLogger attaches a logger for maintenance messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.NewComponentLogger(logger, "queue")
	}
}

// Open initializes or connects to the queue database under paths.queue_dir
// and removes staged files left behind by interrupted enqueues.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", "config is nil", nil)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "open", "ensure directories", err)
	}

	stagingDir := filepath.Join(cfg.Paths.QueueDir, stagingDirName)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "open", "create staging dir", err)
	}

	dbPath := filepath.Join(cfg.Paths.QueueDir, databaseFileName)
	db, err := sql.Open("sqlite", sqliteDSN(dbPath, pragmas))
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "open", "open sqlite db", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrStorage, "queue", "open", "connect sqlite db", err)
	}

	store := &Store{db: db, path: dbPath, stagingDir: stagingDir, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	ctx := context.Background()
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		if errors.Is(err, ErrSchemaMismatch) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrStorage, "queue", "open", "init schema", err)
	}

	if removed, err := store.PruneOrphans(ctx); err != nil {
		logging.WarnWithContext(store.logger, "orphan prune failed", "queue_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on "+stagingDir),
			logging.String(logging.FieldImpact, "stale staged files may consume disk space"),
		)
	} else if removed > 0 {
		store.logger.Info("removed orphaned staged files", logging.Int("count", removed))
	}

	return store, nil
}

// Path returns the manifest database location.
func (s *Store) Path() string {
	return s.path
}

// StagingDir returns the directory holding staged payloads.
func (s *Store) StagingDir() string {
	return s.stagingDir
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
