package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ipoddock/internal/config"
	"ipoddock/internal/logging"
	"ipoddock/internal/notifications"
	"ipoddock/internal/status"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

type ntfyRecorder struct {
	mu       sync.Mutex
	requests []captured
}

func (r *ntfyRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", req.Method)
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		r.mu.Lock()
		r.requests = append(r.requests, captured{
			title:    req.Header.Get("Title"),
			tags:     req.Header.Get("Tags"),
			priority: req.Header.Get("Priority"),
			body:     string(body),
		})
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (r *ntfyRecorder) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.requests...)
}

func newNtfy(t *testing.T) (*ntfyRecorder, *config.Config) {
	t.Helper()
	rec := &ntfyRecorder{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)
	cfg := config.Default()
	cfg.Notify.NtfyTopic = server.URL
	cfg.Notify.RequestTimeoutSeconds = 5
	return rec, &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if notifications.Enabled(svc) {
		t.Fatal("expected noop service without a topic")
	}
	if err := svc.NotifySessionFinished(context.Background(), status.SessionSummary{Failed: 1}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestSessionNotificationFormats(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		summary        status.SessionSummary
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "clean",
			summary:       status.SessionSummary{Succeeded: 3, StartedAt: start, FinishedAt: start.Add(42 * time.Second)},
			expectTitle:   "ipoddock - Sync Complete",
			expectMessage: "3 synced in 42s",
			expectTags:    "ipoddock,sync,completed",
		},
		{
			name:          "partial",
			summary:       status.SessionSummary{Succeeded: 2, Failed: 1, Evicted: 1},
			expectTitle:   "ipoddock - Sync Complete (with errors)",
			expectMessage: "2 synced, 1 failed, 1 evicted after repeated failures",
			expectTags:    "ipoddock,sync,partial",
		},
		{
			name:           "mount failure",
			summary:        status.SessionSummary{Error: "mount /dev/sdb2: busy"},
			expectTitle:    "ipoddock - Sync Failed",
			expectMessage:  "0 synced\nError: mount /dev/sdb2: busy",
			expectTags:     "ipoddock,sync,error",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, cfg := newNtfy(t)
			svc := notifications.NewService(cfg)
			if err := svc.NotifySessionFinished(context.Background(), tc.summary); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			got := rec.all()
			if len(got) != 1 {
				t.Fatalf("expected one request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got[0].title)
			}
			if got[0].body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got[0].body)
			}
			if got[0].tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got[0].tags)
			}
			if got[0].priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got[0].priority)
			}
		})
	}
}

func TestNtfyErrorStatusIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notify.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestDispatcherSkipsCleanSessionsUnlessRequested(t *testing.T) {
	rec, cfg := newNtfy(t)
	svc := notifications.NewService(cfg)

	quiet := notifications.NewDispatcher(svc, false, time.Second, logging.NewNop())
	quiet.RecordSession(status.SessionSummary{ID: "clean", Succeeded: 4})
	quiet.RecordSession(status.SessionSummary{ID: "bad", Failed: 1})
	quiet.Wait()
	if got := rec.all(); len(got) != 1 || got[0].title != "ipoddock - Sync Complete (with errors)" {
		t.Fatalf("expected only the failing session to be sent, got %+v", got)
	}

	loud := notifications.NewDispatcher(svc, true, time.Second, logging.NewNop())
	loud.RecordSession(status.SessionSummary{ID: "empty"})
	loud.RecordSession(status.SessionSummary{ID: "clean", Succeeded: 4})
	loud.Wait()
	if got := rec.all(); len(got) != 2 {
		t.Fatalf("expected clean session with on_success, got %d requests", len(got))
	}
}

func TestDispatcherAlertsOnDegradedOnly(t *testing.T) {
	rec, cfg := newNtfy(t)
	d := notifications.NewDispatcher(notifications.NewService(cfg), false, time.Second, logging.NewNop())

	d.MountChanged(status.Change{Old: status.Disconnected, New: status.Connected, MountPoint: "/media/ipod"})
	d.MountChanged(status.Change{Old: status.Connected, New: status.Degraded, MountPoint: "/media/ipod", Err: errors.New("target is busy")})
	d.Wait()

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected one degraded alert, got %d", len(got))
	}
	if got[0].priority != "high" {
		t.Fatalf("expected high priority, got %q", got[0].priority)
	}
	want := "Player may still be mounted at /media/ipod: target is busy\nUnplug only after checking the mount."
	if got[0].body != want {
		t.Fatalf("unexpected body %q", got[0].body)
	}
}
