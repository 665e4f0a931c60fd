package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ipoddock/internal/config"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/logging"
	"ipoddock/internal/metrics"
	"ipoddock/internal/services"
)

// ErrSessionActive is returned by Exclusive and ListTracks while a session
// holds the device and queue.
var ErrSessionActive = errors.New("sync session in progress")

// ErrStopped is returned once Stop has been called.
var ErrStopped = errors.New("orchestrator stopped")

// Orchestrator runs sync sessions one at a time.
type Orchestrator struct {
	store      QueueStore
	mounter    Mounter
	opener     devicedb.Opener
	transcoder Transcoder
	recorder   SessionRecorder
	logger     *slog.Logger

	devicePath     string
	timeout        time.Duration
	cleanupTimeout time.Duration
	maxAttempts    int

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.RWMutex
	state   State
	running bool
	stopped bool
	last    *SessionResult
	wg      sync.WaitGroup
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTimeouts overrides the session deadline and the cleanup bound.
func WithTimeouts(session, cleanup time.Duration) Option {
	return func(o *Orchestrator) {
		if session > 0 {
			o.timeout = session
		}
		if cleanup > 0 {
			o.cleanupTimeout = cleanup
		}
	}
}

// WithDevicePath pins the block device passed to Acquire.
func WithDevicePath(path string) Option {
	return func(o *Orchestrator) { o.devicePath = path }
}

// New constructs an Orchestrator from cfg and its collaborators.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger, opts ...Option) *Orchestrator {
	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:          deps.Store,
		mounter:        deps.Mounter,
		opener:         deps.Opener,
		transcoder:     deps.Transcoder,
		recorder:       deps.Recorder,
		logger:         logging.NewComponentLogger(logger, "syncer"),
		timeout:        cfg.SyncTimeout(),
		cleanupTimeout: cfg.CleanupTimeout(),
		maxAttempts:    cfg.Workflow.MaxAttempts,
		baseCtx:        baseCtx,
		baseCancel:     cancel,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = 1
	}
	return o
}

// Sync runs one session and returns its result. When a session is already
// running it returns immediately with Coalesced set.
func (o *Orchestrator) Sync(ctx context.Context) SessionResult {
	return o.SyncWithReason(ctx, ReasonManual)
}

// SyncWithReason is Sync with the trigger reason recorded on the result.
func (o *Orchestrator) SyncWithReason(ctx context.Context, reason string) SessionResult {
	if !o.begin() {
		metrics.RecordTrigger(reason, false)
		o.logger.Debug("sync coalesced",
			logging.String("decision_type", "sync_trigger"),
			logging.String("decision_result", "coalesced"),
			logging.String("decision_reason", "session in progress"),
			logging.String("reason", reason),
		)
		return SessionResult{Reason: reason, Coalesced: true, StartedAt: time.Now(), FinishedAt: time.Now()}
	}
	metrics.RecordTrigger(reason, true)
	defer o.end()
	return o.run(ctx, reason)
}

// TriggerAsync starts a session in the background. It reports false when a
// session is already running or the orchestrator has been stopped.
func (o *Orchestrator) TriggerAsync(reason string) bool {
	o.mu.Lock()
	if o.stopped || o.running {
		o.mu.Unlock()
		metrics.RecordTrigger(reason, false)
		return false
	}
	o.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.RecordTrigger(reason, true)
	go func() {
		defer o.wg.Done()
		defer o.end()
		o.run(o.baseCtx, reason)
	}()
	return true
}

// Wait blocks until background sessions started by TriggerAsync finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels background sessions and waits for them to unwind. Cleanup
// still runs under its own bound.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.baseCancel()
	o.wg.Wait()
}

// Exclusive runs fn while holding the session slot, so no sync session can
// start until fn returns. It fails with ErrSessionActive when the slot is
// taken and ErrStopped after Stop.
func (o *Orchestrator) Exclusive(fn func() error) error {
	if err := o.claim(); err != nil {
		return err
	}
	defer o.end()
	return fn()
}

// ListTracks mounts the player, reads its committed track index and releases
// it again. It holds the session slot throughout, so it never runs alongside
// a sync.
func (o *Orchestrator) ListTracks(ctx context.Context) ([]devicedb.Track, error) {
	lister, ok := o.opener.(devicedb.Lister)
	if !ok {
		return nil, errors.New("device database does not support listing tracks")
	}
	if err := o.claim(); err != nil {
		return nil, err
	}
	defer o.end()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	handle, err := o.mounter.Acquire(ctx, o.devicePath)
	if err != nil {
		return nil, err
	}
	o.setState(StateMounted)
	tracks, err := lister.ListTracks(ctx, handle.MountPoint)
	if err != nil {
		err = services.Wrap(services.ErrStorage, "syncer", "list tracks", "", err)
	}

	o.setState(StateUnmounting)
	cctx, ccancel := o.cleanupContext(ctx)
	defer ccancel()
	if releaseErr := o.mounter.Release(cctx, handle); releaseErr != nil {
		err = errors.Join(err, releaseErr)
	}
	o.setState(StateIdle)
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

// Running reports whether a session is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// State returns the current state machine position.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastResult returns a copy of the most recent non-coalesced result, or nil.
func (o *Orchestrator) LastResult() *SessionResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return nil
	}
	copyResult := *o.last
	copyResult.Items = append([]ItemOutcome(nil), o.last.Items...)
	return &copyResult
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

// claim takes the session slot for work other than a sync session.
func (o *Orchestrator) claim() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrStopped
	}
	if o.running {
		return ErrSessionActive
	}
	o.running = true
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	o.mu.Unlock()
	if prev != next {
		o.logger.Debug("session state", logging.String("from", string(prev)), logging.String("to", string(next)))
	}
}
