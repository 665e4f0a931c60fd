package devicedb

import (
	"context"
	"errors"
	"time"
)

// ErrTrackNotFound is returned by RemoveTrack for an unknown track id.
var ErrTrackNotFound = errors.New("track not found")

// ErrSessionClosed is returned for operations after Commit or Close.
var ErrSessionClosed = errors.New("device database session closed")

// TrackMetadata describes a track being imported. Zero values are allowed;
// the title falls back to the file name.
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	TrackNumber int
	DurationMS  int64
	Category    string
	Playlist    string
}

// Opener opens the database on a mounted player.
type Opener interface {
	Open(ctx context.Context, mountPoint string) (Database, error)
}

// Database is one editing session against the player's track database.
type Database interface {
	ImportFile(ctx context.Context, path string, meta TrackMetadata) (string, error)
	RemoveTrack(ctx context.Context, trackID string) error
	Commit(ctx context.Context) error
	Close() error
}

// Track is one committed entry of the player's track index.
type Track struct {
	ID          string
	Path        string
	Title       string
	Artist      string
	Album       string
	Genre       string
	TrackNumber int
	DurationMS  int64
	Category    string
	SizeBytes   int64
	AddedAt     time.Time
	Playlists   []string
}

// Lister reads the committed track index of a mounted player.
type Lister interface {
	ListTracks(ctx context.Context, mountPoint string) ([]Track, error)
}
