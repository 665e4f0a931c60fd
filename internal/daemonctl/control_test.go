package daemonctl

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ipoddock/internal/api"
)

type scriptedClient struct {
	calls   atomic.Int32
	upAfter int32
	downAt  int32
}

func (c *scriptedClient) Status(context.Context) (api.DaemonStatus, error) {
	n := c.calls.Add(1)
	if c.downAt > 0 && n >= c.downAt {
		return api.DaemonStatus{}, api.ErrAPIUnavailable
	}
	if n <= c.upAfter {
		return api.DaemonStatus{}, api.ErrAPIUnavailable
	}
	return api.DaemonStatus{Running: true, PID: 4242}, nil
}

func TestWaitForAPI(t *testing.T) {
	client := &scriptedClient{upAfter: 2}
	st, err := WaitForAPI(context.Background(), client, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForAPI: %v", err)
	}
	if st.PID != 4242 {
		t.Fatalf("pid = %d", st.PID)
	}
	if got := client.calls.Load(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
}

func TestWaitForAPITimesOut(t *testing.T) {
	client := &scriptedClient{upAfter: 1 << 30}
	_, err := WaitForAPI(context.Background(), client, 300*time.Millisecond)
	if err == nil || !errors.Is(err, api.ErrAPIUnavailable) {
		t.Fatalf("expected wrapped unavailable error, got %v", err)
	}
}

func TestEnsureStartedAlreadyRunning(t *testing.T) {
	client := &scriptedClient{}
	res, err := EnsureStarted(context.Background(), client, "/nonexistent/ipoddock", LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if res.State != StartStateAlreadyRunning || res.PID != 4242 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEnsureStartedLaunchFailure(t *testing.T) {
	client := &scriptedClient{upAfter: 1 << 30}
	if _, err := EnsureStarted(context.Background(), client, "", LaunchOptions{}, time.Second); err == nil {
		t.Fatal("expected launch error for empty executable")
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	client := &scriptedClient{downAt: 1}
	if _, err := StopAndTerminate(context.Background(), client, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestWaitForShutdown(t *testing.T) {
	client := &scriptedClient{downAt: 3}
	if err := WaitForShutdown(context.Background(), client, 5*time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}
