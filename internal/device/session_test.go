package device_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ipoddock/internal/device"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/logging"
	"ipoddock/internal/status"
	"ipoddock/internal/syncer"
	"ipoddock/internal/testsupport"
)

type passthroughTranscoder struct{}

func (passthroughTranscoder) IsCompatible(string) bool { return true }

func (passthroughTranscoder) Convert(_ context.Context, path string) (string, error) {
	return path, nil
}

func (passthroughTranscoder) Cleanup(string) {}

func (passthroughTranscoder) Probe(context.Context, string) (devicedb.TrackMetadata, error) {
	return devicedb.TrackMetadata{}, nil
}

func TestSyncSessionMountsImportsAndReleases(t *testing.T) {
	fs := device.InstallFakeSystem(t)
	cfg := testsupport.NewConfig(t)
	testsupport.WriteFile(t, cfg.Device.Device, 1)
	store := testsupport.MustOpenStore(t, cfg)
	publisher := status.NewPublisher(nil)

	var (
		mu     sync.Mutex
		states []status.State
	)
	unsubscribe := publisher.OnMountChange(func(c status.Change) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, c.New)
	})
	defer unsubscribe()

	manager := device.NewManager(cfg, device.WithObserver(publisher), device.WithDeviceWait(50*time.Millisecond))
	library := devicedb.NewLibrary(logging.NewNop())
	orch := syncer.New(cfg, syncer.Dependencies{
		Store:      store,
		Mounter:    manager,
		Opener:     library,
		Transcoder: passthroughTranscoder{},
		Recorder:   publisher,
	}, nil)

	testsupport.EnqueueAdd(t, store, "first.mp3", "first-audio")
	testsupport.EnqueueAdd(t, store, "second.mp3", "second-audio")

	res := orch.Sync(context.Background())
	if res.Err != nil || res.UnmountErr != nil {
		t.Fatalf("session failed: %s", res.Summary())
	}
	if res.Succeeded() != 2 || !res.Committed {
		t.Fatalf("expected two committed imports, got %s", res.Summary())
	}

	if publisher.IsConnected() {
		t.Fatal("player must read as disconnected after the session")
	}
	mu.Lock()
	got := append([]status.State(nil), states...)
	mu.Unlock()
	if len(got) != 2 || got[0] != status.Connected || got[1] != status.Disconnected {
		t.Fatalf("mount transitions = %v, want connected then disconnected", got)
	}
	if manager.Live() || fs.Mounted(manager.MountPoint()) {
		t.Fatal("device must be released and unmounted")
	}
	calls := fs.Commands()
	if len(calls) < 2 || !strings.HasPrefix(calls[0], "mount ") || !strings.HasPrefix(calls[1], "umount ") {
		t.Fatalf("expected mount then umount, got %v", calls)
	}

	tracks, err := library.ListTracks(context.Background(), manager.MountPoint())
	if err != nil {
		t.Fatalf("ListTracks: %v", err)
	}
	if len(tracks) != 2 || tracks[0].Title != "first" || tracks[1].Title != "second" {
		t.Fatalf("tracks on player = %+v", tracks)
	}
	for _, track := range tracks {
		if _, err := os.Stat(filepath.Join(manager.MountPoint(), filepath.FromSlash(track.Path))); err != nil {
			t.Fatalf("track file %q: %v", track.Path, err)
		}
	}
	pending, err := store.ListPending(context.Background())
	if err != nil || len(pending) != 0 {
		t.Fatalf("queue after session = %d items, err=%v", len(pending), err)
	}
}
