package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"ipoddock/internal/config"
	"ipoddock/internal/daemon"
	"ipoddock/internal/device"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/status"
	"ipoddock/internal/syncer"
	"ipoddock/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	apiAddr    string
	baseDir    string
}

type nopMounter struct{ mountPoint string }

func (m nopMounter) Acquire(_ context.Context, devicePath string) (*device.Handle, error) {
	return &device.Handle{DevicePath: devicePath, MountPoint: m.mountPoint, AcquiredAt: time.Now()}, nil
}

func (nopMounter) Release(context.Context, *device.Handle) error { return nil }

type memoryDB struct {
	next   int
	tracks []devicedb.Track
}

func (d *memoryDB) Open(context.Context, string) (devicedb.Database, error) { return d, nil }
func (d *memoryDB) ImportFile(_ context.Context, _ string, meta devicedb.TrackMetadata) (string, error) {
	d.next++
	id := "t" + strings.Repeat("0", d.next)
	d.tracks = append(d.tracks, devicedb.Track{ID: id, Title: meta.Title, Artist: meta.Artist, DurationMS: meta.DurationMS, Category: meta.Category})
	return id, nil
}
func (d *memoryDB) ListTracks(context.Context, string) ([]devicedb.Track, error) {
	return d.tracks, nil
}
func (d *memoryDB) RemoveTrack(context.Context, string) error { return nil }
func (d *memoryDB) Commit(context.Context) error              { return nil }
func (d *memoryDB) Close() error                              { return nil }

type nopTranscoder struct{}

func (nopTranscoder) IsCompatible(string) bool { return true }
func (nopTranscoder) Convert(_ context.Context, path string) (string, error) {
	return path, nil
}
func (nopTranscoder) Cleanup(string) {}
func (nopTranscoder) Probe(context.Context, string) (devicedb.TrackMetadata, error) {
	return devicedb.TrackMetadata{}, nil
}

// setupOfflineEnv writes a config whose api points at a closed port, so
// queue commands take the direct store path.
func setupOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Device.USBVendorID = ""
	srv := httptest.NewServer(nil)
	cfg.API.Bind = strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	env := &cliTestEnv{cfg: cfg, baseDir: testsupport.BaseDir(cfg)}
	env.configPath = filepath.Join(env.baseDir, "config.toml")
	writeTestConfig(t, env.configPath, cfg)
	env.apiAddr = cfg.API.Bind
	return env
}

// setupLiveEnv starts a daemon with in-memory player collaborators.
func setupLiveEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Device.USBVendorID = ""
	cfg.Workflow.AutoSync = false

	store := testsupport.MustOpenStore(t, cfg)
	publisher := status.NewPublisher(nil)
	orch := syncer.New(cfg, syncer.Dependencies{
		Store:      store,
		Mounter:    nopMounter{mountPoint: cfg.Device.MountPoint},
		Opener:     &memoryDB{},
		Transcoder: nopTranscoder{},
		Recorder:   publisher,
	}, nil)
	d, err := daemon.New(cfg, store, orch, publisher, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	env := &cliTestEnv{cfg: cfg, baseDir: testsupport.BaseDir(cfg), apiAddr: d.APIAddr()}
	env.configPath = filepath.Join(env.baseDir, "config.toml")
	writeTestConfig(t, env.configPath, cfg)
	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", env.configPath, "--api", env.apiAddr}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
