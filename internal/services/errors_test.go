package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"ipoddock/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "exit status 1", base)
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcode", "ffmpeg", "exit status 1", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToExternalTool(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("plain"), "unknown"},
		{services.Wrap(services.ErrStorage, "queue", "enqueue", "disk full", nil), "storage"},
		{services.Wrap(services.ErrDeviceBusy, "device", "acquire", "", nil), "device_busy"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrCommit, "devicedb", "commit", "", nil)), "commit"},
		{services.Wrap(services.ErrUnmount, "device", "release", "", errors.New("target is busy")), "unmount"},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestSessionLevel(t *testing.T) {
	if !services.SessionLevel(services.Wrap(services.ErrDeviceNotFound, "device", "detect", "", nil)) {
		t.Fatal("device not found should be session level")
	}
	if services.SessionLevel(services.Wrap(services.ErrImport, "devicedb", "import", "", nil)) {
		t.Fatal("import failures are item level")
	}
}
