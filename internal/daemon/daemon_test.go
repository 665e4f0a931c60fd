package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ipoddock/internal/queue"
	"ipoddock/internal/services"
	"ipoddock/internal/syncer"
	"ipoddock/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := env.daemon.Status(ctx)
	if !st.Running {
		t.Fatal("expected daemon running")
	}
	if st.LockFilePath != env.cfg.LockPath() {
		t.Fatalf("lock path = %q, want %q", st.LockFilePath, env.cfg.LockPath())
	}
	if len(st.Dependencies) == 0 {
		t.Fatal("expected dependency report after start")
	}
	if env.daemon.APIAddr() == "" {
		t.Fatal("expected api listener address")
	}
	if err := env.daemon.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	env.daemon.Stop()
	if env.daemon.Status(ctx).Running {
		t.Fatal("expected daemon stopped")
	}
	if env.daemon.APIAddr() != "" {
		t.Fatal("expected api listener closed")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	first := newTestEnv(t)
	if err := first.daemon.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second := newTestEnvWithConfig(t, first.cfg)
	if err := second.daemon.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}

	first.daemon.Stop()
	if err := second.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestAddFileValidatesSource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := testsupport.BaseDir(env.cfg)

	t.Run("missing", func(t *testing.T) {
		_, err := env.daemon.AddFile(ctx, filepath.Join(dir, "nope.mp3"), queue.EnqueueRequest{})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := env.daemon.AddFile(ctx, dir, queue.EnqueueRequest{})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("extension", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		testsupport.WriteFile(t, path, 10)
		_, err := env.daemon.AddFile(ctx, path, queue.EnqueueRequest{})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		path := filepath.Join(dir, "Song.FLAC")
		testsupport.WriteFile(t, path, 128)
		item, err := env.daemon.AddFile(ctx, path, queue.EnqueueRequest{Category: queue.CategoryPodcast})
		if err != nil {
			t.Fatalf("AddFile: %v", err)
		}
		if item.Kind != queue.KindAdd || item.Category != queue.CategoryPodcast {
			t.Fatalf("unexpected item %+v", item)
		}
		if item.OriginalName != "Song.FLAC" {
			t.Fatalf("original name = %q", item.OriginalName)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("AddFile must not consume the source: %v", err)
		}
	})
}

func TestQueueMutationsRefusedWhileSessionRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := testsupport.EnqueueAdd(t, env.store, "a.mp3", "payload")

	env.mounter.gate = make(chan struct{})
	env.mounter.entered = make(chan struct{}, 1)
	if !env.orch.TriggerAsync(syncer.ReasonManual) {
		t.Fatal("expected session to start")
	}
	<-env.mounter.entered

	if _, err := env.daemon.RemoveItem(ctx, item.ID); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("RemoveItem err = %v, want ErrSessionActive", err)
	}
	if _, err := env.daemon.ClearQueue(ctx); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("ClearQueue err = %v, want ErrSessionActive", err)
	}

	close(env.mounter.gate)
	env.orch.Wait()
	if got := pendingCount(t, env.store); got != 0 {
		t.Fatalf("expected queue drained, %d pending", got)
	}
}

func TestTriggerSyncWaitReturnsResult(t *testing.T) {
	env := newTestEnv(t)
	testsupport.EnqueueAdd(t, env.store, "a.mp3", "one")
	testsupport.EnqueueDelete(t, env.store, "track-9")

	res, started := env.daemon.TriggerSync(context.Background(), true, syncer.ReasonAPI)
	if !started {
		t.Fatal("expected session to start")
	}
	if res.Succeeded() != 2 || !res.Committed {
		t.Fatalf("unexpected result: %s", res.Summary())
	}
	if res.Reason != syncer.ReasonAPI {
		t.Fatalf("reason = %q", res.Reason)
	}
	if env.db.importCount() != 1 || len(env.db.removed) != 1 {
		t.Fatalf("imports=%d removed=%v", env.db.importCount(), env.db.removed)
	}
}

func TestAutoTriggerHonoursWorkflowFlag(t *testing.T) {
	env := newTestEnv(t)
	testsupport.EnqueueAdd(t, env.store, "a.mp3", "one")

	if env.daemon.autoTrigger(syncer.ReasonUSB) {
		t.Fatal("auto trigger must be a no-op when auto_sync is disabled")
	}
	if env.orch.LastResult() != nil {
		t.Fatal("no session expected")
	}

	env.cfg.Workflow.AutoSync = true
	if !env.daemon.autoTrigger(syncer.ReasonUSB) {
		t.Fatal("expected auto trigger to start a session")
	}
	env.orch.Wait()
	waitFor(t, time.Second, func() bool { return env.orch.LastResult() != nil })
	if got := env.orch.LastResult().Reason; got != syncer.ReasonUSB {
		t.Fatalf("reason = %q", got)
	}
}
