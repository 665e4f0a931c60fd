package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Metadata carries producer-supplied tag overrides.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Genre       string `json:"genre,omitempty"`
	TrackNumber int    `json:"trackNumber,omitempty"`
}

// QueueItem describes a pending queue entry.
type QueueItem struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	OriginalName string    `json:"originalName,omitempty"`
	Category     string    `json:"category,omitempty"`
	Playlist     string    `json:"playlist,omitempty"`
	TrackID      string    `json:"trackId,omitempty"`
	SizeBytes    int64     `json:"sizeBytes,omitempty"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError,omitempty"`
	EnqueuedAt   string    `json:"enqueuedAt,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// Failure is one entry of the failure log.
type Failure struct {
	ID         int64  `json:"id"`
	ItemID     string `json:"itemId"`
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	Reason     string `json:"reason"`
	Attempts   int    `json:"attempts"`
	EnqueuedAt string `json:"enqueuedAt,omitempty"`
	FailedAt   string `json:"failedAt"`
}

// Track is one entry of the player's track index.
type Track struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist,omitempty"`
	Album       string   `json:"album,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	TrackNumber int      `json:"trackNumber,omitempty"`
	DurationMS  int64    `json:"durationMs,omitempty"`
	Category    string   `json:"category"`
	SizeBytes   int64    `json:"sizeBytes"`
	AddedAt     string   `json:"addedAt,omitempty"`
	Playlists   []string `json:"playlists,omitempty"`
}

// QueueStats aggregates the pending queue.
type QueueStats struct {
	Pending  int   `json:"pending"`
	Adds     int   `json:"adds"`
	Deletes  int   `json:"deletes"`
	Bytes    int64 `json:"bytes"`
	Failures int   `json:"failures"`
}

// ItemOutcome is one item's result within a session.
type ItemOutcome struct {
	ItemID   string `json:"itemId"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
	TrackID  string `json:"trackId,omitempty"`
	Error    string `json:"error,omitempty"`
	Retained bool   `json:"retained"`
}

// SessionResult reports a sync session.
type SessionResult struct {
	ID           string        `json:"id,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	StartedAt    string        `json:"startedAt,omitempty"`
	FinishedAt   string        `json:"finishedAt,omitempty"`
	Summary      string        `json:"summary"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Evicted      int           `json:"evicted"`
	Committed    bool          `json:"committed"`
	Coalesced    bool          `json:"coalesced"`
	Empty        bool          `json:"empty"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"errorKind,omitempty"`
	UnmountError string        `json:"unmountError,omitempty"`
	Items        []ItemOutcome `json:"items,omitempty"`
}

// Connection describes the player connection state.
type Connection struct {
	State      string `json:"state"`
	MountPoint string `json:"mountPoint,omitempty"`
	Since      string `json:"since,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Connection   Connection         `json:"connection"`
	SyncState    string             `json:"syncState"`
	SyncRunning  bool               `json:"syncRunning"`
	Queue        QueueStats         `json:"queue"`
	LastSession  *SessionResult     `json:"lastSession,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// DatabaseHealth reports queue database diagnostics.
type DatabaseHealth struct {
	DBPath           string `json:"dbPath"`
	StagingDir       string `json:"stagingDir"`
	DatabaseExists   bool   `json:"databaseExists"`
	DatabaseReadable bool   `json:"databaseReadable"`
	SchemaVersion    int    `json:"schemaVersion"`
	IntegrityCheck   bool   `json:"integrityCheck"`
	TotalItems       int    `json:"totalItems"`
	StagedFiles      int    `json:"stagedFiles"`
	MissingStaged    int    `json:"missingStaged"`
	OrphanedFiles    int    `json:"orphanedFiles"`
	Error            string `json:"error,omitempty"`
}

// QueueListResponse wraps pending items.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// FailureListResponse wraps failure log entries.
type FailureListResponse struct {
	Failures []Failure `json:"failures"`
}

// TrackListResponse wraps the tracks on the player.
type TrackListResponse struct {
	Tracks []Track `json:"tracks"`
}

// DeleteRequest asks the daemon to queue removal of a device track.
type DeleteRequest struct {
	TrackID string `json:"trackId"`
}

// RemoveResponse reports whether a pending item was removed.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// ClearResponse reports how many rows were cleared.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// SyncResponse answers POST /api/sync. Result is set when the caller waited.
type SyncResponse struct {
	Started bool           `json:"started"`
	Result  *SessionResult `json:"result,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// UploadOptions are the form fields sent with a file upload.
type UploadOptions struct {
	Category string
	Playlist string
	Metadata Metadata
}
