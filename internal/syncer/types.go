package syncer

import (
	"context"
	"fmt"
	"time"

	"ipoddock/internal/device"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/queue"
	"ipoddock/internal/status"
)

// State is the orchestrator's position in the session state machine.
type State string

const (
	StateIdle       State = "idle"
	StateDraining   State = "draining"
	StateMounted    State = "mounted"
	StateApplying   State = "applying"
	StateCommitting State = "committing"
	StateUnmounting State = "unmounting"
	StateError      State = "error"
)

// ItemStatus is the outcome of one queue item within a session.
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
	ItemEvicted   ItemStatus = "evicted"
)

// Trigger reasons.
const (
	ReasonManual = "manual"
	ReasonAPI    = "api"
	ReasonUSB    = "usb"
	ReasonInbox  = "inbox"
	ReasonCLI    = "cli"
)

// ItemOutcome records what happened to one item.
type ItemOutcome struct {
	ItemID  string
	Kind    queue.Kind
	Name    string
	Status  ItemStatus
	TrackID string
	Err     error
	// Retained is true when the item is still queued after the session.
	Retained bool
}

// ErrorText returns the error message or "".
func (o ItemOutcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// SessionResult is the complete record of one Sync call.
type SessionResult struct {
	ID         string
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
	Items      []ItemOutcome
	Committed  bool
	// Err is the session-level failure (mount, database open, commit, storage).
	Err error
	// UnmountErr is set when releasing the device failed.
	UnmountErr error
	// Coalesced is true when the call found a session already running and did nothing.
	Coalesced bool
	// Empty is true when the queue had nothing to apply.
	Empty bool
}

func (r SessionResult) count(s ItemStatus) int {
	n := 0
	for _, item := range r.Items {
		if item.Status == s {
			n++
		}
	}
	return n
}

// Succeeded counts items applied and committed.
func (r SessionResult) Succeeded() int { return r.count(ItemSucceeded) }

// Failed counts items that failed to apply.
func (r SessionResult) Failed() int { return r.count(ItemFailed) }

// Skipped counts items left untouched in the queue.
func (r SessionResult) Skipped() int { return r.count(ItemSkipped) }

// Evicted counts items dropped after reaching the attempt ceiling.
func (r SessionResult) Evicted() int { return r.count(ItemEvicted) }

// Duration is the session's wall time.
func (r SessionResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome names the session result for metrics and logs.
func (r SessionResult) Outcome() string {
	switch {
	case r.Coalesced:
		return "coalesced"
	case r.Empty:
		return "empty"
	case r.Err != nil:
		return "failed"
	case r.Committed:
		return "committed"
	default:
		return "no_changes"
	}
}

// Summary is a one-line human description.
func (r SessionResult) Summary() string {
	switch {
	case r.Coalesced:
		return "sync already in progress"
	case r.Empty:
		return "queue empty"
	}
	s := fmt.Sprintf("%d succeeded, %d failed, %d skipped", r.Succeeded(), r.Failed(), r.Skipped())
	if n := r.Evicted(); n > 0 {
		s += fmt.Sprintf(", %d evicted", n)
	}
	if r.Committed {
		s += "; committed"
	}
	if r.Err != nil {
		s += "; error: " + r.Err.Error()
	}
	if r.UnmountErr != nil {
		s += "; unmount failed: " + r.UnmountErr.Error()
	}
	return s
}

// StatusSummary converts the result for the status publisher.
func (r SessionResult) StatusSummary() status.SessionSummary {
	s := status.SessionSummary{
		ID:         r.ID,
		Reason:     r.Reason,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		Skipped:    r.Skipped(),
		Evicted:    r.Evicted(),
		Committed:  r.Committed,
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	if r.UnmountErr != nil {
		s.UnmountError = r.UnmountErr.Error()
	}
	return s
}

// QueueStore is the subset of queue.Store a session needs.
type QueueStore interface {
	ListPending(ctx context.Context) ([]*queue.Item, error)
	OpenStaged(item *queue.Item) (string, error)
	Remove(ctx context.Context, id string) (bool, error)
	IncrementAttempts(ctx context.Context, ids []string, reason string) error
	RecordFailure(ctx context.Context, item *queue.Item, reason string) error
}

// Mounter acquires and releases the player.
type Mounter interface {
	Acquire(ctx context.Context, devicePath string) (*device.Handle, error)
	Release(ctx context.Context, h *device.Handle) error
}

// Transcoder converts incompatible audio and reads tags.
type Transcoder interface {
	IsCompatible(path string) bool
	Convert(ctx context.Context, path string) (string, error)
	Cleanup(path string)
	Probe(ctx context.Context, path string) (devicedb.TrackMetadata, error)
}

// SessionRecorder receives each finished session.
type SessionRecorder interface {
	RecordSession(summary status.SessionSummary)
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Store      QueueStore
	Mounter    Mounter
	Opener     devicedb.Opener
	Transcoder Transcoder
	Recorder   SessionRecorder
}
