package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ipoddock/internal/queue"
	"ipoddock/internal/testsupport"
)

type inboxHarness struct {
	env      *testEnv
	watcher  *inboxWatcher
	triggers atomic.Int32
}

func newInboxHarness(t *testing.T, keepSource bool) *inboxHarness {
	t.Helper()
	env := newTestEnv(t)
	env.cfg.Inbox.KeepSource = keepSource
	h := &inboxHarness{env: env}
	h.watcher = newInboxWatcher(env.cfg, env.store, nil, func(string) bool {
		h.triggers.Add(1)
		return true
	})
	for _, dir := range []string{env.cfg.Paths.InboxDir, filepath.Join(env.cfg.Paths.InboxDir, "audiobook")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return h
}

func TestInboxEnqueuesSettledFiles(t *testing.T) {
	h := newInboxHarness(t, false)
	inbox := h.env.cfg.Paths.InboxDir
	song := filepath.Join(inbox, "song.mp3")
	book := filepath.Join(inbox, "audiobook", "chapter1.m4b")
	testsupport.WriteFile(t, song, 64)
	testsupport.WriteFile(t, book, 128)

	now := time.Now()
	h.watcher.track(song, now)
	h.watcher.track(book, now)
	h.watcher.processPending(context.Background(), now)

	items, err := h.env.store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 queued items, got %d", len(items))
	}
	categories := map[string]queue.Category{}
	for _, item := range items {
		categories[item.OriginalName] = item.Category
	}
	if categories["song.mp3"] != queue.CategoryMusic || categories["chapter1.m4b"] != queue.CategoryAudiobook {
		t.Fatalf("unexpected categories %v", categories)
	}
	for _, path := range []string{song, book} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed after enqueue, stat err = %v", path, err)
		}
	}
	if got := h.triggers.Load(); got != 1 {
		t.Fatalf("expected one trigger for the batch, got %d", got)
	}
}

func TestInboxWaitsForStableSize(t *testing.T) {
	h := newInboxHarness(t, false)
	h.watcher.settle = time.Minute
	path := filepath.Join(h.env.cfg.Paths.InboxDir, "growing.mp3")
	testsupport.WriteFile(t, path, 10)

	start := time.Now()
	h.watcher.track(path, start)
	h.watcher.processPending(context.Background(), start.Add(30*time.Second))
	if got := pendingCount(t, h.env.store); got != 0 {
		t.Fatalf("file queued before settling, %d pending", got)
	}

	testsupport.WriteFile(t, path, 20)
	h.watcher.processPending(context.Background(), start.Add(61*time.Second))
	if got := pendingCount(t, h.env.store); got != 0 {
		t.Fatal("size change must restart the settle window")
	}

	h.watcher.processPending(context.Background(), start.Add(122*time.Second))
	if got := pendingCount(t, h.env.store); got != 1 {
		t.Fatalf("expected settled file queued, %d pending", got)
	}
}

func TestInboxIgnoresPartialAndHiddenFiles(t *testing.T) {
	names := []string{".hidden.mp3", "download.part", "song.mp3.crdownload", "edit.swp", "backup~", "upload.tmp"}
	for _, name := range names {
		if !ignoredInboxName(name) {
			t.Fatalf("expected %q ignored", name)
		}
	}
	if ignoredInboxName("song.mp3") {
		t.Fatal("regular audio file must not be ignored")
	}

	h := newInboxHarness(t, false)
	now := time.Now()
	for _, name := range names {
		path := filepath.Join(h.env.cfg.Paths.InboxDir, name)
		testsupport.WriteFile(t, path, 16)
		h.watcher.track(path, now)
	}
	h.watcher.processPending(context.Background(), now)
	if got := pendingCount(t, h.env.store); got != 0 {
		t.Fatalf("ignored files were queued: %d", got)
	}
	if h.triggers.Load() != 0 {
		t.Fatal("no trigger expected")
	}
}

func TestInboxKeepSourceQueuesOnce(t *testing.T) {
	h := newInboxHarness(t, true)
	path := filepath.Join(h.env.cfg.Paths.InboxDir, "keep.mp3")
	testsupport.WriteFile(t, path, 32)

	now := time.Now()
	h.watcher.track(path, now)
	h.watcher.processPending(context.Background(), now)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("keep_source must leave the file: %v", err)
	}

	h.watcher.track(path, now.Add(time.Second))
	h.watcher.processPending(context.Background(), now.Add(time.Second))
	if got := pendingCount(t, h.env.store); got != 1 {
		t.Fatalf("unchanged file queued again: %d pending", got)
	}
}

func TestInboxRejectsNonAudio(t *testing.T) {
	h := newInboxHarness(t, false)
	path := filepath.Join(h.env.cfg.Paths.InboxDir, "cover.jpg")
	testsupport.WriteFile(t, path, 32)

	now := time.Now()
	h.watcher.track(path, now)
	h.watcher.processPending(context.Background(), now)
	if got := pendingCount(t, h.env.store); got != 0 {
		t.Fatalf("non-audio file queued: %d", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("rejected file must stay in the inbox: %v", err)
	}
}

func TestInboxWatcherPicksUpNewFiles(t *testing.T) {
	h := newInboxHarness(t, false)
	preexisting := filepath.Join(h.env.cfg.Paths.InboxDir, "early.mp3")
	testsupport.WriteFile(t, preexisting, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.watcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.watcher.Stop()

	for _, category := range queue.Categories {
		if _, err := os.Stat(filepath.Join(h.env.cfg.Paths.InboxDir, string(category))); err != nil {
			t.Fatalf("category dir %s not created: %v", category, err)
		}
	}

	testsupport.WriteFile(t, filepath.Join(h.env.cfg.Paths.InboxDir, "podcast", "episode.mp3"), 16)
	waitFor(t, 5*time.Second, func() bool { return pendingCount(t, h.env.store) == 2 })
	waitFor(t, time.Second, func() bool { return h.triggers.Load() >= 1 })

	h.watcher.Stop()
	if h.watcher.running {
		t.Fatal("expected watcher stopped")
	}
}
