package devicedb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ipoddock/internal/fileutil"
	"ipoddock/internal/logging"
	"ipoddock/internal/textutil"
)

//go:embed schema.sql
var schemaSQL string

const (
	controlDir    = "iPod_Control"
	indexRelPath  = "iPod_Control/iTunes/ipoddock.db"
	musicRelDir   = "iPod_Control/Music"
	musicFolders  = 50
	tokenAttempts = 32
)

// Library opens the bundled SQLite-backed track database on a mounted player.
type Library struct {
	logger *slog.Logger
}

// NewLibrary returns a Library that logs through logger.
func NewLibrary(logger *slog.Logger) *Library {
	return &Library{logger: logging.NewComponentLogger(logger, "devicedb")}
}

// Open starts an editing session. The index is created on first use.
func (l *Library) Open(ctx context.Context, mountPoint string) (Database, error) {
	info, err := os.Stat(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("stat mount point: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mount point %s is not a directory", mountPoint)
	}
	for _, dir := range []string{filepath.Dir(filepath.Join(mountPoint, indexRelPath)), filepath.Join(mountPoint, musicRelDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare %s: %w", dir, err)
		}
	}

	// Removable FAT media: a rollback journal beside the database survives
	// an unplug better than WAL's shared-memory file.
	db, err := openIndex(ctx, mountPoint)
	if err != nil {
		return nil, err
	}
	// The transaction outlives the session deadline: database/sql rolls a
	// transaction back when its context ends, and work applied before the
	// deadline must still be committable during cleanup. Commit and Close
	// end it.
	txCtx := context.WithoutCancel(ctx)
	tx, err := db.BeginTx(txCtx, nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("begin track index transaction: %w", err)
	}
	return &session{
		mountPoint: mountPoint,
		db:         db,
		tx:         tx,
		txCtx:      txCtx,
		logger:     l.logger.With(logging.String(logging.FieldMountPoint, mountPoint)),
	}, nil
}

func openIndex(ctx context.Context, mountPoint string) (*sql.DB, error) {
	values := url.Values{}
	for _, p := range []string{"journal_mode(DELETE)", "synchronous(FULL)", "foreign_keys(1)", "busy_timeout(5000)"} {
		values.Add("_pragma", p)
	}
	values.Set("_txlock", "immediate")
	dbPath := filepath.Join(mountPoint, indexRelPath)
	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+values.Encode())
	if err != nil {
		return nil, fmt.Errorf("open track index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init track index: %w", err)
	}
	return db, nil
}

// ListTracks reads the committed track index, ordered by when tracks were
// added. A player without an index yields an empty list.
func (l *Library) ListTracks(ctx context.Context, mountPoint string) ([]Track, error) {
	if _, err := os.Stat(filepath.Join(mountPoint, indexRelPath)); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	db, err := openIndex(ctx, mountPoint)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
SELECT t.id, t.path, t.title, COALESCE(t.artist, ''), COALESCE(t.album, ''), COALESCE(t.genre, ''),
       COALESCE(t.track_number, 0), COALESCE(t.duration_ms, 0), t.category, t.size_bytes, t.added_at,
       COALESCE((SELECT group_concat(p.name, char(31)) FROM playlist_tracks pt JOIN playlists p ON p.id = pt.playlist_id
                 WHERE pt.track_id = t.id), '')
  FROM tracks t
 ORDER BY t.added_at, t.id`)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var (
			t         Track
			addedAt   string
			playlists string
		)
		if err := rows.Scan(&t.ID, &t.Path, &t.Title, &t.Artist, &t.Album, &t.Genre,
			&t.TrackNumber, &t.DurationMS, &t.Category, &t.SizeBytes, &addedAt, &playlists); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, addedAt); err == nil {
			t.AddedAt = ts
		}
		if playlists != "" {
			t.Playlists = strings.Split(playlists, "\x1f")
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tracks: %w", err)
	}
	return tracks, nil
}

type session struct {
	mountPoint string
	db         *sql.DB
	tx         *sql.Tx
	txCtx      context.Context
	logger     *slog.Logger

	mu        sync.Mutex
	copied    []string
	removed   []string
	committed bool
	closed    bool
}

func (s *session) ImportFile(ctx context.Context, path string, meta TrackMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return "", ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest, size, err := SampledSHA1(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", filepath.Base(path), err)
	}
	if size == 0 {
		return "", fmt.Errorf("%s is empty", filepath.Base(path))
	}

	// Each import is all or nothing inside the batch transaction: a failure
	// part way through leaves neither a row nor a copied file behind.
	if _, err := s.tx.ExecContext(s.txCtx, "SAVEPOINT import_track"); err != nil {
		return "", fmt.Errorf("begin import: %w", err)
	}
	var dest string
	id, err := s.importTrack(ctx, path, digest, size, meta, &dest)
	if err != nil {
		if _, rbErr := s.tx.ExecContext(s.txCtx, "ROLLBACK TO import_track"); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("roll back import: %w", rbErr))
		}
		_, _ = s.tx.ExecContext(s.txCtx, "RELEASE import_track")
		if dest != "" {
			s.discardCopy(dest)
		}
		return "", err
	}
	if _, err := s.tx.ExecContext(s.txCtx, "RELEASE import_track"); err != nil {
		if dest != "" {
			s.discardCopy(dest)
		}
		return "", fmt.Errorf("finish import: %w", err)
	}
	return id, nil
}

// importTrack does the work of ImportFile inside its savepoint. dest is set
// as soon as a file has been copied onto the device.
func (s *session) importTrack(ctx context.Context, path, digest string, size int64, meta TrackMetadata, dest *string) (string, error) {
	var existing string
	err := s.tx.QueryRowContext(s.txCtx, "SELECT id FROM tracks WHERE sha1 = ? AND size_bytes = ? LIMIT 1", digest, size).Scan(&existing)
	switch {
	case err == nil:
		s.logger.Info("track already on device",
			logging.String("track_id", existing),
			logging.String("decision_type", "import"),
			logging.String("decision_result", "duplicate"),
			logging.String("decision_reason", "sampled sha1 and size match"),
		)
		if err := s.appendToPlaylist(meta.Playlist, existing); err != nil {
			return "", err
		}
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("lookup duplicate: %w", err)
	}

	relPath, err := s.allocatePath(path)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(s.mountPoint, relPath)
	if err := fileutil.CopyFileVerified(path, abs); err != nil {
		_ = os.Remove(abs)
		return "", fmt.Errorf("copy to device: %w", err)
	}
	*dest = abs
	s.copied = append(s.copied, abs)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	category := meta.Category
	if category == "" {
		category = "music"
	}
	id := uuid.NewString()
	_, err = s.tx.ExecContext(s.txCtx,
		`INSERT INTO tracks (id, path, sha1, size_bytes, title, artist, album, genre, track_number, duration_ms, category, added_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, filepath.ToSlash(relPath), digest, size, title,
		nullable(meta.Artist), nullable(meta.Album), nullable(meta.Genre),
		nullableInt(int64(meta.TrackNumber)), nullableInt(meta.DurationMS),
		category, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert track: %w", err)
	}
	if err := s.appendToPlaylist(meta.Playlist, id); err != nil {
		return "", err
	}
	return id, nil
}

// discardCopy deletes a file copied by a failed import and forgets it.
func (s *session) discardCopy(dest string) {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("failed import cleanup", logging.String("path", dest), logging.Error(err))
	}
	for i, p := range s.copied {
		if p == dest {
			s.copied = append(s.copied[:i], s.copied[i+1:]...)
			break
		}
	}
}

// allocatePath picks Music/Fnn/XXXX.ext with a random folder and a random
// four-letter name, the layout the player firmware uses.
func (s *session) allocatePath(src string) (string, error) {
	ext := strings.ToLower(filepath.Ext(src))
	for i := 0; i < tokenAttempts; i++ {
		folder := fmt.Sprintf("F%02d", rand.IntN(musicFolders))
		name := randomToken(4) + ext
		rel := filepath.Join(musicRelDir, folder, textutil.SanitizeDeviceName(name))
		abs := filepath.Join(s.mountPoint, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", fmt.Errorf("create music folder: %w", err)
		}
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			return rel, nil
		}
	}
	return "", errors.New("could not allocate a free file name on device")
}

func randomToken(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func (s *session) appendToPlaylist(name, trackID string) error {
	ctx := s.txCtx
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if _, err := s.tx.ExecContext(ctx, "INSERT OR IGNORE INTO playlists (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("create playlist %q: %w", name, err)
	}
	var playlistID int64
	if err := s.tx.QueryRowContext(ctx, "SELECT id FROM playlists WHERE name = ?", name).Scan(&playlistID); err != nil {
		return fmt.Errorf("lookup playlist %q: %w", name, err)
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO playlist_tracks (playlist_id, track_id, position)
         SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM playlist_tracks WHERE playlist_id = ?`,
		playlistID, trackID, playlistID,
	)
	if err != nil {
		return fmt.Errorf("append to playlist %q: %w", name, err)
	}
	return nil
}

func (s *session) RemoveTrack(ctx context.Context, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var rel string
	err := s.tx.QueryRowContext(s.txCtx, "SELECT path FROM tracks WHERE id = ?", trackID).Scan(&rel)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	if err != nil {
		return fmt.Errorf("lookup track: %w", err)
	}
	if _, err := s.tx.ExecContext(s.txCtx, "DELETE FROM tracks WHERE id = ?", trackID); err != nil {
		return fmt.Errorf("delete track: %w", err)
	}
	s.removed = append(s.removed, filepath.Join(s.mountPoint, filepath.FromSlash(rel)))
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit track index: %w", err)
	}
	s.tx = nil
	s.committed = true
	for _, path := range s.removed {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(s.logger, "removed track file left on device", "device_file_orphaned",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the file manually to reclaim space"),
				logging.String(logging.FieldImpact, "wasted space on the player"),
			)
		}
	}
	s.removed = nil
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if !s.committed {
		for _, path := range s.copied {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Debug("rollback cleanup failed", logging.String("path", path), logging.Error(err))
			}
		}
	}
	s.copied = nil
	return s.db.Close()
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return strings.TrimSpace(v)
}

func nullableInt(v int64) any {
	if v <= 0 {
		return nil
	}
	return v
}
