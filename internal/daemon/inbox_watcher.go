package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ipoddock/internal/config"
	"ipoddock/internal/logging"
	"ipoddock/internal/metrics"
	"ipoddock/internal/queue"
	"ipoddock/internal/syncer"
)

const minInboxPoll = 50 * time.Millisecond

var ignoredInboxSuffixes = []string{".tmp", ".swp", "~", ".part", ".crdownload"}

type fileEnqueuer interface {
	EnqueueFile(ctx context.Context, req queue.EnqueueRequest, path string) (*queue.Item, error)
}

type inboxFile struct {
	size        int64
	stableSince time.Time
}

type seenFile struct {
	size    int64
	modTime time.Time
}

// inboxWatcher turns files dropped into the inbox into queued adds. A
// subdirectory named after a category sets the item's category.
type inboxWatcher struct {
	dir        string
	settle     time.Duration
	keepSource bool
	store      fileEnqueuer
	trigger    func(reason string) bool
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*inboxFile
	seen    map[string]seenFile
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

func newInboxWatcher(cfg *config.Config, store fileEnqueuer, logger *slog.Logger, trigger func(reason string) bool) *inboxWatcher {
	if cfg == nil || store == nil || strings.TrimSpace(cfg.Paths.InboxDir) == "" {
		return nil
	}
	return &inboxWatcher{
		dir:        cfg.Paths.InboxDir,
		settle:     time.Duration(cfg.Inbox.SettleSeconds) * time.Second,
		keepSource: cfg.Inbox.KeepSource,
		store:      store,
		trigger:    trigger,
		logger:     logging.NewComponentLogger(logger, "inbox"),
		pending:    make(map[string]*inboxFile),
		seen:       make(map[string]seenFile),
	}
}

// Start watches the inbox and its category subdirectories. Files already
// present are picked up as if they had just arrived.
func (w *inboxWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	dirs := []string{w.dir}
	for _, category := range queue.Categories {
		dirs = append(dirs, filepath.Join(w.dir, string(category)))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("create inbox dir %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch inbox dir %s: %w", dir, err)
		}
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.running = true
	for _, dir := range dirs {
		w.scanLocked(dir, time.Now())
	}

	w.wg.Add(1)
	go w.loop(ctx, watcher, w.done)

	w.logger.Info("inbox watcher started",
		logging.String(logging.FieldEventType, "inbox_watcher_started"),
		logging.String("dir", w.dir),
		logging.Duration("settle", w.settle),
	)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *inboxWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	_ = watcher.Close()
	w.wg.Wait()
	w.logger.Info("inbox watcher stopped", logging.String(logging.FieldEventType, "inbox_watcher_stopped"))
}

func (w *inboxWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, done <-chan struct{}) {
	defer w.wg.Done()
	interval := w.settle / 2
	if interval < minInboxPoll {
		interval = minInboxPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			w.track(event.Name, time.Now())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "inbox watch error", "inbox_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some dropped files may be picked up late"),
			)
		case now := <-ticker.C:
			w.processPending(ctx, now)
		}
	}
}

// track starts or refreshes the stability timer for path.
func (w *inboxWatcher) track(path string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trackLocked(path, now)
}

func (w *inboxWatcher) trackLocked(path string, now time.Time) {
	if ignoredInboxName(filepath.Base(path)) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if prev, ok := w.seen[path]; ok {
		if prev.size == info.Size() && prev.modTime.Equal(info.ModTime()) {
			return
		}
		delete(w.seen, path)
	}
	if entry, ok := w.pending[path]; ok {
		if entry.size != info.Size() {
			entry.size = info.Size()
			entry.stableSince = now
		}
		return
	}
	w.pending[path] = &inboxFile{size: info.Size(), stableSince: now}
}

func (w *inboxWatcher) scanLocked(dir string, now time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.trackLocked(filepath.Join(dir, entry.Name()), now)
		}
	}
}

// processPending enqueues files whose size has held steady for settle, then
// triggers one sync for the batch once nothing else is settling.
func (w *inboxWatcher) processPending(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, entry := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != entry.size {
			entry.size = info.Size()
			entry.stableSince = now
			continue
		}
		if now.Sub(entry.stableSince) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	queued := 0
	for _, path := range ready {
		if w.ingest(ctx, path) {
			queued++
		}
	}

	w.mu.Lock()
	settling := len(w.pending)
	w.mu.Unlock()
	if queued > 0 && settling == 0 && w.trigger != nil {
		w.trigger(syncer.ReasonInbox)
	}
}

func (w *inboxWatcher) ingest(ctx context.Context, path string) bool {
	item, err := w.enqueue(ctx, path)
	if err != nil {
		w.remember(path)
		logging.WarnWithContext(w.logger, "inbox file not queued", "inbox_enqueue_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file left in the inbox"),
			logging.String(logging.FieldErrorHint, "fix or remove the file; touching it retries"),
		)
		return false
	}
	metrics.RecordEnqueue("inbox")

	if w.keepSource {
		w.remember(path)
	} else if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.remember(path)
		logging.WarnWithContext(w.logger, "inbox source not removed", "inbox_remove_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file stays in the inbox but will not be queued twice"),
		)
	}
	w.logger.Info("inbox file queued",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("name", item.OriginalName),
		logging.String("category", string(item.Category)),
	)
	return true
}

func (w *inboxWatcher) enqueue(ctx context.Context, path string) (*queue.Item, error) {
	if err := checkExtension(path); err != nil {
		return nil, err
	}
	return w.store.EnqueueFile(ctx, queue.EnqueueRequest{
		Kind:         queue.KindAdd,
		OriginalName: filepath.Base(path),
		Category:     w.categoryFor(path),
	}, path)
}

// remember marks path so an unchanged file is not queued again.
func (w *inboxWatcher) remember(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.seen[path] = seenFile{size: info.Size(), modTime: info.ModTime()}
	w.mu.Unlock()
}

func (w *inboxWatcher) categoryFor(path string) queue.Category {
	parent := filepath.Dir(path)
	if filepath.Clean(parent) == filepath.Clean(w.dir) {
		return queue.CategoryMusic
	}
	category, err := queue.ParseCategory(filepath.Base(parent))
	if err != nil {
		return queue.CategoryMusic
	}
	return category
}

func ignoredInboxName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return true
	}
	lower := strings.ToLower(name)
	for _, suffix := range ignoredInboxSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
