package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ipoddock/internal/config"
	"ipoddock/internal/status"
)

const userAgent = "ipoddock/0.1"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifySessionFinished(ctx context.Context, summary status.SessionSummary) error
	NotifyDeviceDegraded(ctx context.Context, mountPoint string, cause error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc actually delivers anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifySessionFinished(ctx context.Context, summary status.SessionSummary) error {
	return n.send(ctx, sessionPayload(summary))
}

func (n *ntfyService) NotifyDeviceDegraded(ctx context.Context, mountPoint string, cause error) error {
	message := "Player may still be mounted"
	if mountPoint = strings.TrimSpace(mountPoint); mountPoint != "" {
		message += " at " + mountPoint
	}
	if cause != nil {
		message += ": " + strings.TrimSpace(cause.Error())
	}
	message += "\nUnplug only after checking the mount."
	return n.send(ctx, payload{
		title:    "ipoddock - Player Degraded",
		message:  message,
		tags:     []string{"ipoddock", "device", "warning"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "ipoddock - Test",
		message:  "Notification system test",
		tags:     []string{"ipoddock", "test"},
		priority: "low",
	})
}

func sessionPayload(summary status.SessionSummary) payload {
	var b strings.Builder
	fmt.Fprintf(&b, "%d synced", summary.Succeeded)
	if summary.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", summary.Failed)
	}
	if summary.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", summary.Skipped)
	}
	if summary.Evicted > 0 {
		fmt.Fprintf(&b, ", %d evicted after repeated failures", summary.Evicted)
	}
	if d := summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second); d > 0 {
		fmt.Fprintf(&b, " in %s", d)
	}
	if summary.Error != "" {
		b.WriteString("\nError: ")
		b.WriteString(summary.Error)
	}
	if summary.UnmountError != "" {
		b.WriteString("\nUnmount: ")
		b.WriteString(summary.UnmountError)
	}

	switch {
	case summary.Error != "" || summary.UnmountError != "":
		return payload{
			title:    "ipoddock - Sync Failed",
			message:  b.String(),
			tags:     []string{"ipoddock", "sync", "error"},
			priority: "high",
		}
	case summary.Failed > 0 || summary.Evicted > 0:
		return payload{
			title:   "ipoddock - Sync Complete (with errors)",
			message: b.String(),
			tags:    []string{"ipoddock", "sync", "partial"},
		}
	default:
		return payload{
			title:   "ipoddock - Sync Complete",
			message: b.String(),
			tags:    []string{"ipoddock", "sync", "completed"},
		}
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifySessionFinished(context.Context, status.SessionSummary) error { return nil }
func (noopService) NotifyDeviceDegraded(context.Context, string, error) error         { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
