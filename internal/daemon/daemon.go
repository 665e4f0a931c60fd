package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"ipoddock/internal/config"
	"ipoddock/internal/deps"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/logging"
	"ipoddock/internal/metrics"
	"ipoddock/internal/preflight"
	"ipoddock/internal/queue"
	"ipoddock/internal/services"
	"ipoddock/internal/status"
	"ipoddock/internal/syncer"
)

// ErrSessionActive is returned by queue mutations while a sync session runs.
var ErrSessionActive = syncer.ErrSessionActive

// acceptedExtensions are the audio files the daemon queues; anything the
// player cannot decode natively is transcoded during sync.
var acceptedExtensions = map[string]struct{}{
	".mp3": {}, ".m4a": {}, ".m4b": {}, ".aac": {}, ".aif": {}, ".aiff": {}, ".wav": {},
	".flac": {}, ".ogg": {}, ".oga": {}, ".opus": {}, ".wma": {}, ".alac": {},
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	orch      *syncer.Orchestrator
	publisher *status.Publisher

	lockPath string
	lock     *flock.Flock

	api     *apiServer
	netlink *netlinkMonitor
	inbox   *inboxWatcher
	deps    atomic.Pointer[[]deps.Status]

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Connection   status.Snapshot
	SyncState    syncer.State
	SyncRunning  bool
	LastSession  *syncer.SessionResult
	Queue        queue.Stats
	QueueErr     error
	QueueDBPath  string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, orch *syncer.Orchestrator, publisher *status.Publisher, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || orch == nil || publisher == nil {
		return nil, errors.New("daemon requires config, store, orchestrator, and status publisher")
	}
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		orch:      orch,
		publisher: publisher,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	d.netlink = newNetlinkMonitor(cfg, logger, d.autoTrigger)
	if cfg.Inbox.Enabled {
		d.inbox = newInboxWatcher(cfg, store, logger, d.autoTrigger)
	}
	return d, nil
}

// Start acquires the daemon lock and launches the producers and the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ipoddock daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	checked := preflight.CheckSystemDeps(d.ctx, d.cfg)
	d.deps.Store(&checked)
	for _, missing := range deps.MissingRequired(checked) {
		logging.WarnWithContext(d.logger, "required binary missing", "dependency_missing",
			logging.String("binary", missing.Command),
			logging.String(logging.FieldErrorHint, missing.Description),
			logging.String(logging.FieldImpact, "sync sessions will fail until it is installed"),
		)
	}

	if err := d.api.start(d.ctx); err != nil {
		d.abortStart()
		return err
	}
	if err := d.netlink.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start netlink monitor: %w", err)
	}
	if err := d.inbox.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start inbox watcher: %w", err)
	}

	if stats, err := d.store.Stats(d.ctx); err == nil {
		metrics.SetQueueDepth(stats.Pending)
	}

	d.running.Store(true)
	d.logger.Info("ipoddock daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("auto_sync", d.cfg.Workflow.AutoSync),
		logging.Bool("inbox", d.inbox != nil),
	)
	return nil
}

func (d *Daemon) abortStart() {
	d.inbox.Stop()
	d.netlink.Stop()
	d.api.stop()
	d.cancel()
	d.ctx, d.cancel = nil, nil
	_ = d.lock.Unlock()
}

// Stop stops the producers, lets any session finish its cleanup, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.netlink.Stop()
	d.inbox.Stop()
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.orch.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("ipoddock daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the address the API listens on, or "" when disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	s := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Connection:   d.publisher.Snapshot(),
		SyncState:    d.orch.State(),
		SyncRunning:  d.orch.Running(),
		LastSession:  d.orch.LastResult(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	s.Queue, s.QueueErr = d.store.Stats(ctx)
	if checked := d.deps.Load(); checked != nil {
		s.Dependencies = *checked
	}
	return s
}

// ListQueue returns pending items in FIFO order.
func (d *Daemon) ListQueue(ctx context.Context) ([]*queue.Item, error) {
	return d.store.ListPending(ctx)
}

// AddFile enqueues a local audio file.
func (d *Daemon) AddFile(ctx context.Context, sourcePath string, req queue.EnqueueRequest) (*queue.Item, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, services.Wrap(services.ErrValidation, "daemon", "add file", "source path is required", nil)
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "daemon", "add file", "stat source file", err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "daemon", "add file", fmt.Sprintf("%q is a directory", absPath), nil)
	}
	if err := checkExtension(info.Name()); err != nil {
		return nil, err
	}
	req.Kind = queue.KindAdd
	if req.OriginalName == "" {
		req.OriginalName = info.Name()
	}
	item, err := d.store.EnqueueFile(ctx, req, absPath)
	if err != nil {
		return nil, err
	}
	metrics.RecordEnqueue("cli")
	d.logger.Info("file queued", logging.String(logging.FieldItemID, item.ID), logging.String("source", absPath))
	d.autoTrigger(syncer.ReasonCLI)
	return item, nil
}

// Upload enqueues an add whose payload streams from r.
func (d *Daemon) Upload(ctx context.Context, req queue.EnqueueRequest, r io.Reader) (*queue.Item, error) {
	if err := checkExtension(req.OriginalName); err != nil {
		return nil, err
	}
	req.Kind = queue.KindAdd
	item, err := d.store.Enqueue(ctx, req, r)
	if err != nil {
		return nil, err
	}
	metrics.RecordEnqueue("api")
	d.logger.Info("upload queued",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("name", item.OriginalName),
		logging.Int64("size_bytes", item.SizeBytes),
	)
	d.autoTrigger(syncer.ReasonAPI)
	return item, nil
}

// EnqueueDelete queues removal of a track from the player.
func (d *Daemon) EnqueueDelete(ctx context.Context, trackID string) (*queue.Item, error) {
	item, err := d.store.Enqueue(ctx, queue.EnqueueRequest{Kind: queue.KindDelete, TrackID: strings.TrimSpace(trackID)}, nil)
	if err != nil {
		return nil, err
	}
	metrics.RecordEnqueue("api")
	d.autoTrigger(syncer.ReasonAPI)
	return item, nil
}

// RemoveItem drops one pending item. It refuses while a session runs because
// the session may already hold the item.
func (d *Daemon) RemoveItem(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := d.orch.Exclusive(func() error {
		var err error
		removed, err = d.store.Remove(ctx, id)
		return err
	})
	return removed, err
}

// ClearQueue drops every pending item. Like RemoveItem it holds the session
// slot so no sync can start halfway through.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	var cleared int64
	err := d.orch.Exclusive(func() error {
		var err error
		cleared, err = d.store.Clear(ctx)
		return err
	})
	return cleared, err
}

// ListTracks reads the tracks on the player. The device is mounted for the
// read, so it fails with ErrSessionActive during a sync.
func (d *Daemon) ListTracks(ctx context.Context) ([]devicedb.Track, error) {
	return d.orch.ListTracks(ctx)
}

// ListFailures returns the newest failure log entries.
func (d *Daemon) ListFailures(ctx context.Context, limit int) ([]*queue.Failure, error) {
	return d.store.ListFailures(ctx, limit)
}

// ClearFailures empties the failure log.
func (d *Daemon) ClearFailures(ctx context.Context) (int64, error) {
	return d.store.ClearFailures(ctx)
}

// DatabaseHealth returns queue database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TriggerSync starts a session. With wait it blocks and returns the result;
// otherwise it reports whether a background session started.
func (d *Daemon) TriggerSync(ctx context.Context, wait bool, reason string) (syncer.SessionResult, bool) {
	if wait {
		res := d.orch.SyncWithReason(ctx, reason)
		return res, !res.Coalesced
	}
	return syncer.SessionResult{}, d.orch.TriggerAsync(reason)
}

// autoTrigger starts a background sync when workflow.auto_sync is enabled.
func (d *Daemon) autoTrigger(reason string) bool {
	if !d.cfg.Workflow.AutoSync {
		d.logger.Debug("auto sync disabled",
			logging.String("decision_type", "sync_trigger"),
			logging.String("decision_result", "skipped"),
			logging.String("decision_reason", "workflow.auto_sync=false"),
			logging.String("reason", reason),
		)
		return false
	}
	return d.orch.TriggerAsync(reason)
}

func checkExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := acceptedExtensions[ext]; !ok {
		return services.Wrap(services.ErrValidation, "daemon", "enqueue", fmt.Sprintf("unsupported file extension %q", ext), nil)
	}
	return nil
}
