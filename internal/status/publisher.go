// Package status tracks whether the player is connected and what the last
// sync session did. The state lives in memory only.
package status

import (
	"log/slog"
	"sync"
	"time"

	"ipoddock/internal/device"
	"ipoddock/internal/logging"
	"ipoddock/internal/metrics"
)

// State is the player connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connected    State = "connected"
	// Degraded means the last unmount failed; the player may not be safe to unplug.
	Degraded State = "degraded"
)

// Change describes one state transition.
type Change struct {
	Old        State
	New        State
	MountPoint string
	At         time.Time
	Err        error
}

// SessionSummary is the part of a sync session result worth showing to users.
type SessionSummary struct {
	ID           string    `json:"id"`
	Reason       string    `json:"reason"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	Evicted      int       `json:"evicted"`
	Committed    bool      `json:"committed"`
	Error        string    `json:"error,omitempty"`
	UnmountError string    `json:"unmount_error,omitempty"`
}

// Snapshot is a consistent copy of the publisher's state.
type Snapshot struct {
	State       State
	MountPoint  string
	Since       time.Time
	LastError   string
	LastSession *SessionSummary
}

// Publisher implements device.MountObserver.
type Publisher struct {
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	mountPoint  string
	since       time.Time
	lastError   string
	lastSession *SessionSummary
	subscribers map[int]func(Change)
	nextID      int
}

var _ device.MountObserver = (*Publisher)(nil)

// NewPublisher starts in the disconnected state.
func NewPublisher(logger *slog.Logger) *Publisher {
	metrics.SetDeviceState(string(Disconnected))
	return &Publisher{
		logger:      logging.NewComponentLogger(logger, "status"),
		state:       Disconnected,
		since:       time.Now(),
		subscribers: make(map[int]func(Change)),
	}
}

// MountAcquired marks the player connected.
func (p *Publisher) MountAcquired(h *device.Handle) {
	mountPoint := ""
	if h != nil {
		mountPoint = h.MountPoint
	}
	p.transition(Connected, mountPoint, nil)
}

// MountReleased marks the player disconnected, or degraded when err is set.
func (p *Publisher) MountReleased(h *device.Handle, err error) {
	mountPoint := ""
	if h != nil {
		mountPoint = h.MountPoint
	}
	next := Disconnected
	if err != nil {
		next = Degraded
	}
	p.transition(next, mountPoint, err)
}

func (p *Publisher) transition(next State, mountPoint string, err error) {
	now := time.Now()
	p.mu.Lock()
	old := p.state
	p.state = next
	p.mountPoint = mountPoint
	if err != nil {
		p.lastError = err.Error()
	} else if next != Degraded {
		p.lastError = ""
	}
	if old != next {
		p.since = now
	}
	callbacks := make([]func(Change), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		callbacks = append(callbacks, fn)
	}
	p.mu.Unlock()

	if old == next {
		return
	}
	metrics.SetDeviceState(string(next))
	p.logger.Info("device state changed",
		logging.String("from", string(old)),
		logging.String("to", string(next)),
		logging.String(logging.FieldMountPoint, mountPoint),
	)
	change := Change{Old: old, New: next, MountPoint: mountPoint, At: now, Err: err}
	for _, fn := range callbacks {
		fn(change)
	}
}

// OnMountChange registers fn for state transitions and returns a function
// that removes it. Callbacks run on the notifying goroutine, outside the
// publisher's lock.
func (p *Publisher) OnMountChange(fn func(Change)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}

// IsConnected reports whether the player is mounted and healthy.
func (p *Publisher) IsConnected() bool {
	return p.State() == Connected
}

// State returns the current connection state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RecordSession stores the most recent session summary.
func (p *Publisher) RecordSession(summary SessionSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := summary
	p.lastSession = &s
}

// LastSession returns the most recent session summary, or nil.
func (p *Publisher) LastSession() *SessionSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSession == nil {
		return nil
	}
	s := *p.lastSession
	return &s
}

// Snapshot returns the full published state.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := Snapshot{
		State:      p.state,
		MountPoint: p.mountPoint,
		Since:      p.since,
		LastError:  p.lastError,
	}
	if p.lastSession != nil {
		s := *p.lastSession
		snap.LastSession = &s
	}
	return snap
}
