package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ipoddock/internal/config"
	"ipoddock/internal/device"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/queue"
	"ipoddock/internal/status"
	"ipoddock/internal/syncer"
	"ipoddock/internal/testsupport"
)

type stubMounter struct {
	mountPoint string
	gate       chan struct{}
	entered    chan struct{}
	acquireErr error
}

func (m *stubMounter) Acquire(ctx context.Context, devicePath string) (*device.Handle, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	return &device.Handle{DevicePath: devicePath, MountPoint: m.mountPoint, AcquiredAt: time.Now(), Mounted: true}, nil
}

func (m *stubMounter) Release(context.Context, *device.Handle) error { return nil }

type stubDB struct {
	mu      sync.Mutex
	imports []devicedb.TrackMetadata
	removed []string
	next    int
}

func (d *stubDB) Open(context.Context, string) (devicedb.Database, error) { return d, nil }

func (d *stubDB) ImportFile(_ context.Context, _ string, meta devicedb.TrackMetadata) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.imports = append(d.imports, meta)
	return fmt.Sprintf("track-%d", d.next), nil
}

func (d *stubDB) RemoveTrack(_ context.Context, trackID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, trackID)
	return nil
}

func (d *stubDB) ListTracks(context.Context, string) ([]devicedb.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tracks := make([]devicedb.Track, 0, len(d.imports))
	for i, meta := range d.imports {
		tracks = append(tracks, devicedb.Track{ID: fmt.Sprintf("track-%d", i+1), Title: meta.Title, Category: meta.Category})
	}
	return tracks, nil
}

func (d *stubDB) Commit(context.Context) error { return nil }
func (d *stubDB) Close() error                 { return nil }

func (d *stubDB) importCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.imports)
}

type passthroughTranscoder struct{}

func (passthroughTranscoder) IsCompatible(string) bool { return true }
func (passthroughTranscoder) Convert(_ context.Context, path string) (string, error) {
	return path, nil
}
func (passthroughTranscoder) Cleanup(string) {}
func (passthroughTranscoder) Probe(context.Context, string) (devicedb.TrackMetadata, error) {
	return devicedb.TrackMetadata{}, nil
}

type testEnv struct {
	cfg     *config.Config
	store   *queue.Store
	db      *stubDB
	mounter *stubMounter
	orch    *syncer.Orchestrator
	daemon  *Daemon
}

func newTestEnv(t *testing.T, opts ...testsupport.ConfigOption) *testEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Device.USBVendorID = ""
	cfg.Workflow.AutoSync = false
	return newTestEnvWithConfig(t, cfg)
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	publisher := status.NewPublisher(nil)
	db := &stubDB{}
	mounter := &stubMounter{mountPoint: cfg.Device.MountPoint}
	orch := syncer.New(cfg, syncer.Dependencies{
		Store:      store,
		Mounter:    mounter,
		Opener:     db,
		Transcoder: passthroughTranscoder{},
		Recorder:   publisher,
	}, nil)
	t.Cleanup(orch.Stop)

	d, err := New(cfg, store, orch, publisher, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return &testEnv{cfg: cfg, store: store, db: db, mounter: mounter, orch: orch, daemon: d}
}

func pendingCount(t *testing.T, store *queue.Store) int {
	t.Helper()
	items, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	return len(items)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
