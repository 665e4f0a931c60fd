package queue

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes adds from deletes.
type Kind string

const (
	KindAdd    Kind = "add"
	KindDelete Kind = "delete"
)

// ParseKind normalizes user-provided kind strings.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindAdd:
		return KindAdd, nil
	case KindDelete:
		return KindDelete, nil
	default:
		return "", fmt.Errorf("unknown item kind %q", value)
	}
}

// Category selects the player library section a track lands in.
type Category string

const (
	CategoryMusic     Category = "music"
	CategoryAudiobook Category = "audiobook"
	CategoryPodcast   Category = "podcast"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryMusic, CategoryAudiobook, CategoryPodcast}

// ParseCategory normalizes a category string. Empty input means music.
func ParseCategory(value string) (Category, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return CategoryMusic, nil
	}
	for _, c := range Categories {
		if string(c) == v {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q (want music, audiobook, or podcast)", value)
}

// Metadata holds producer-supplied tag overrides. Empty fields defer to the
// tags read from the file itself.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Genre       string `json:"genre,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
}

// IsZero reports whether no override is set.
func (m Metadata) IsZero() bool {
	return m == Metadata{}
}

// Item is one pending mutation of the player library.
type Item struct {
	ID         string
	Seq        int64
	Kind       Kind
	EnqueuedAt time.Time
	Attempts   int
	LastError  string

	// Add payload.
	StagedName   string
	OriginalName string
	Category     Category
	Playlist     string
	Metadata     Metadata
	SizeBytes    int64

	// Delete payload.
	TrackID string
}

// DisplayName returns a short human label for logs and tables.
func (i *Item) DisplayName() string {
	if i == nil {
		return ""
	}
	if i.Kind == KindDelete {
		return "track " + i.TrackID
	}
	if i.Metadata.Title != "" {
		return i.Metadata.Title
	}
	return i.OriginalName
}

// EnqueueRequest describes an item to accept into the queue.
type EnqueueRequest struct {
	Kind         Kind
	OriginalName string
	Category     Category
	Playlist     string
	Metadata     Metadata
	TrackID      string
}

// Failure is a dropped item kept for reporting.
type Failure struct {
	ID         int64
	ItemID     string
	Kind       Kind
	Name       string
	Reason     string
	Attempts   int
	EnqueuedAt time.Time
	FailedAt   time.Time
}

// Stats summarizes the pending queue.
type Stats struct {
	Pending  int
	Adds     int
	Deletes  int
	Bytes    int64
	Failures int
}

// DatabaseHealth captures diagnostic information about the queue database
// and staging directory.
type DatabaseHealth struct {
	DBPath           string
	StagingDir       string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalItems       int
	StagedFiles      int
	MissingStaged    int
	OrphanedFiles    int
	Error            string
}
