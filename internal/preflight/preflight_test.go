package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ipoddock/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckMountPoint(t *testing.T) {
	base := t.TempDir()
	if r := CheckMountPoint(base, false); !r.Passed {
		t.Fatalf("existing dir should pass: %s", r.Detail)
	}
	if r := CheckMountPoint(filepath.Join(base, "media", "ipod"), false); !r.Passed || !strings.Contains(r.Detail, "will be created") {
		t.Fatalf("creatable path should pass: %+v", r)
	}
	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckMountPoint(file, false); r.Passed {
		t.Fatal("regular file should fail")
	}
}

func TestRunAllReportsMissingBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffprobe", "mount", "umount", "lsblk", "eject"))
	cfg.Audio.FFmpegBinary = "ipoddock-missing-ffmpeg"
	for _, dir := range []string{cfg.Paths.QueueDir, cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Paths.InboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	results := RunAll(context.Background(), cfg)
	if !Failed(results) {
		t.Fatal("expected a failure for the missing ffmpeg")
	}
	for _, r := range results {
		if r.Name == "FFmpeg" && r.Passed {
			t.Fatalf("ffmpeg should fail: %+v", r)
		}
		if r.Name == "FFprobe" && !r.Passed {
			t.Fatalf("stubbed ffprobe should pass: %+v", r)
		}
		if strings.HasSuffix(r.Name, "directory") && !r.Passed {
			t.Fatalf("directory check failed: %+v", r)
		}
	}
}

func TestCheckSystemDepsSudo(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Device.UseSudo = true
	cfg.Device.Eject = false
	var names []string
	for _, s := range CheckSystemDeps(context.Background(), cfg) {
		names = append(names, s.Name)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "sudo") || strings.Contains(joined, "eject") {
		t.Fatalf("unexpected requirement list %s", joined)
	}
}
