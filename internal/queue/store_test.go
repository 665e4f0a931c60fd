package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ipoddock/internal/queue"
	"ipoddock/internal/services"
	"ipoddock/internal/testsupport"
)

func TestEnqueueAddPersistsAcrossReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	item, err := store.Enqueue(ctx, queue.EnqueueRequest{
		Kind:         queue.KindAdd,
		OriginalName: "Song One.MP3",
		Playlist:     "Road Trip",
		Metadata:     queue.Metadata{Artist: "Band", TrackNumber: 3},
	}, strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if item.ID == "" || item.Seq == 0 {
		t.Fatalf("expected id and seq, got %#v", item)
	}
	if item.Category != queue.CategoryMusic {
		t.Fatalf("expected default category music, got %q", item.Category)
	}
	if !strings.HasSuffix(item.StagedName, ".mp3") {
		t.Fatalf("expected lowercase extension on staged name, got %q", item.StagedName)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected item to survive reopen")
	}
	if got.Playlist != "Road Trip" || got.Metadata.Artist != "Band" || got.Metadata.TrackNumber != 3 {
		t.Fatalf("payload not preserved: %#v", got)
	}
	if got.SizeBytes != int64(len("audio-bytes")) {
		t.Fatalf("expected size %d, got %d", len("audio-bytes"), got.SizeBytes)
	}
	content, err := os.ReadFile(reopened.StagedPath(got))
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if string(content) != "audio-bytes" {
		t.Fatalf("staged content mismatch: %q", content)
	}
}

func TestEnqueueValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cases := []struct {
		name    string
		req     queue.EnqueueRequest
		payload string
	}{
		{"unknown kind", queue.EnqueueRequest{Kind: "rename"}, ""},
		{"add without name", queue.EnqueueRequest{Kind: queue.KindAdd}, "x"},
		{"add with empty payload", queue.EnqueueRequest{Kind: queue.KindAdd, OriginalName: "a.mp3"}, ""},
		{"bad category", queue.EnqueueRequest{Kind: queue.KindAdd, OriginalName: "a.mp3", Category: "video"}, "x"},
		{"delete without track", queue.EnqueueRequest{Kind: queue.KindDelete}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Enqueue(ctx, tc.req, strings.NewReader(tc.payload))
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	items, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("rejected enqueues must not leave rows, got %d", len(items))
	}
	entries, err := os.ReadDir(store.StagingDir())
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected enqueues must not leave staged files, got %d", len(entries))
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestEnqueueStorageFailureLeavesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, queue.EnqueueRequest{Kind: queue.KindAdd, OriginalName: "a.flac"}, brokenReader{})
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	items, _ := store.ListPending(ctx)
	if len(items) != 0 {
		t.Fatalf("expected no rows, got %d", len(items))
	}
	entries, _ := os.ReadDir(store.StagingDir())
	if len(entries) != 0 {
		t.Fatalf("expected no staged files, got %d", len(entries))
	}
}

func TestListPendingIsFIFO(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.EnqueueAdd(t, store, "one.mp3", "1")
	second := testsupport.EnqueueDelete(t, store, "track-9")
	third := testsupport.EnqueueAdd(t, store, "three.mp3", "3")

	items, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	want := []string{first.ID, second.ID, third.ID}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, items[i].ID)
		}
	}
	if items[1].Kind != queue.KindDelete || items[1].TrackID != "track-9" {
		t.Fatalf("delete payload not preserved: %#v", items[1])
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Enqueue(ctx, queue.EnqueueRequest{Kind: queue.KindAdd, OriginalName: "c.mp3"}, strings.NewReader("data"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Enqueue: %v", err)
		}
	}
	items, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != n {
		t.Fatalf("expected %d items, got %d", n, len(items))
	}
	seen := make(map[string]struct{}, n)
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			t.Fatalf("duplicate id %s", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueAdd(t, store, "gone.mp3", "bytes")
	staged := store.StagedPath(item)

	removed, err := store.Remove(ctx, item.ID)
	if err != nil || !removed {
		t.Fatalf("first Remove: removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(staged); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged file deleted, stat err=%v", err)
	}
	removed, err = store.Remove(ctx, item.ID)
	if err != nil || removed {
		t.Fatalf("second Remove: removed=%v err=%v", removed, err)
	}
	removed, err = store.Remove(ctx, "no-such-id")
	if err != nil || removed {
		t.Fatalf("unknown Remove: removed=%v err=%v", removed, err)
	}
}

func TestClearRemovesRowsAndFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.EnqueueAdd(t, store, "a.mp3", "a")
	testsupport.EnqueueAdd(t, store, "b.mp3", "b")
	testsupport.EnqueueDelete(t, store, "t1")

	n, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 cleared, got %d", n)
	}
	entries, _ := os.ReadDir(store.StagingDir())
	if len(entries) != 0 {
		t.Fatalf("expected staging dir empty, got %d entries", len(entries))
	}
}

func TestClearKeepsItemsEnqueuedAfterListing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.EnqueueAdd(t, store, "a.mp3", "a")
	testsupport.EnqueueDelete(t, store, "t1")
	listed, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	late := testsupport.EnqueueAdd(t, store, "late.mp3", "late")

	n, err := store.ClearListed(ctx, listed)
	if err != nil {
		t.Fatalf("ClearListed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	remaining, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != late.ID {
		t.Fatalf("expected only the late item left, got %+v", remaining)
	}
	if _, err := os.Stat(store.StagedPath(late)); err != nil {
		t.Fatalf("late item's staged file must survive: %v", err)
	}

	if n, err := store.Clear(ctx); err != nil || n != 1 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	if n, err := store.Clear(ctx); err != nil || n != 0 {
		t.Fatalf("Clear on empty queue = %d, %v", n, err)
	}
}

func TestOpenStagedDetectsPoison(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	healthy := testsupport.EnqueueAdd(t, store, "ok.mp3", "fine")
	if path, err := store.OpenStaged(healthy); err != nil || path == "" {
		t.Fatalf("healthy item: path=%q err=%v", path, err)
	}

	missing := testsupport.EnqueueAdd(t, store, "missing.mp3", "x")
	if err := os.Remove(store.StagedPath(missing)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.OpenStaged(missing); !errors.Is(err, queue.ErrPoison) {
		t.Fatalf("missing file: expected ErrPoison, got %v", err)
	}

	empty := testsupport.EnqueueAdd(t, store, "empty.mp3", "x")
	if err := os.Truncate(store.StagedPath(empty), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := store.OpenStaged(empty); !errors.Is(err, queue.ErrPoison) {
		t.Fatalf("empty file: expected ErrPoison, got %v", err)
	}

	del := testsupport.EnqueueDelete(t, store, "t1")
	if _, err := store.OpenStaged(del); !errors.Is(err, queue.ErrPoison) {
		t.Fatalf("delete item: expected ErrPoison, got %v", err)
	}
}

func TestIncrementAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.EnqueueAdd(t, store, "a.mp3", "a")
	b := testsupport.EnqueueAdd(t, store, "b.mp3", "b")

	for i := 0; i < 2; i++ {
		if err := store.IncrementAttempts(ctx, []string{a.ID}, "commit failed"); err != nil {
			t.Fatalf("IncrementAttempts: %v", err)
		}
	}
	gotA, _ := store.Get(ctx, a.ID)
	gotB, _ := store.Get(ctx, b.ID)
	if gotA.Attempts != 2 || gotA.LastError != "commit failed" {
		t.Fatalf("unexpected attempts on a: %#v", gotA)
	}
	if gotB.Attempts != 0 {
		t.Fatalf("b should be untouched, got %d", gotB.Attempts)
	}
	if err := store.IncrementAttempts(ctx, nil, "noop"); err != nil {
		t.Fatalf("empty IncrementAttempts: %v", err)
	}
}

func TestFailureLog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.EnqueueAdd(t, store, "first.mp3", "1")
	second := testsupport.EnqueueDelete(t, store, "t2")
	if err := store.RecordFailure(ctx, first, "transcode error: unsupported codec"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := store.RecordFailure(ctx, second, ""); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	failures, err := store.ListFailures(ctx, 0)
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].ItemID != second.ID || failures[0].Reason != "unknown failure" {
		t.Fatalf("expected newest first with default reason, got %#v", failures[0])
	}
	if failures[1].Name != "first.mp3" || failures[1].FailedAt.IsZero() {
		t.Fatalf("unexpected failure row: %#v", failures[1])
	}

	limited, _ := store.ListFailures(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 2 || stats.Adds != 1 || stats.Deletes != 1 || stats.Failures != 2 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	n, err := store.ClearFailures(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ClearFailures: n=%d err=%v", n, err)
	}
}

func TestPruneOrphansOnOpen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	kept := testsupport.EnqueueAdd(t, store, "kept.mp3", "k")

	old := time.Now().Add(-time.Hour)
	orphan := filepath.Join(store.StagingDir(), "deadbeef.mp3")
	temp := filepath.Join(store.StagingDir(), ".incoming-123.tmp")
	fresh := filepath.Join(store.StagingDir(), "inflight.mp3")
	for _, p := range []string{orphan, temp, fresh} {
		testsupport.WriteFile(t, p, 4)
	}
	for _, p := range []string{orphan, temp} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	for _, p := range []string{orphan, temp} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s pruned, stat err=%v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file should survive the grace period: %v", err)
	}
	if _, err := os.Stat(reopened.StagedPath(kept)); err != nil {
		t.Fatalf("tracked staged file should survive: %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueAdd(t, store, "a.mp3", "a")
	testsupport.EnqueueAdd(t, store, "b.mp3", "b")
	if err := os.Remove(store.StagedPath(item)); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(store.StagingDir(), "stray.mp3"), 2)

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("expected healthy database, got %#v", health)
	}
	if health.TotalItems != 2 || health.MissingStaged != 1 || health.OrphanedFiles != 1 {
		t.Fatalf("unexpected counts: %#v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("expected schema version 1, got %d", health.SchemaVersion)
	}
}

func TestOpenRefusesOtherSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", filepath.Join(cfg.Paths.QueueDir, "queue.db"))
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = db.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
