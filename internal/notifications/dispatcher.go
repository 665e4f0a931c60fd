package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ipoddock/internal/logging"
	"ipoddock/internal/status"
)

// Dispatcher forwards daemon events to a Service without blocking the caller.
type Dispatcher struct {
	svc       Service
	logger    *slog.Logger
	onSuccess bool
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher wraps svc. Clean sessions are only sent when onSuccess is set.
func NewDispatcher(svc Service, onSuccess bool, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		svc:       svc,
		logger:    logging.NewComponentLogger(logger, "notifications"),
		onSuccess: onSuccess,
		timeout:   timeout,
	}
}

// RecordSession sends a session summary when it is worth interrupting someone.
func (d *Dispatcher) RecordSession(summary status.SessionSummary) {
	if !Enabled(d.svc) || sessionEmpty(summary) {
		return
	}
	if !d.onSuccess && sessionClean(summary) {
		d.logger.Debug("session notification skipped",
			logging.String("decision_type", "notify_session"),
			logging.String("decision_result", "skipped"),
			logging.String("decision_reason", "clean session and notify.on_success is false"),
			logging.String(logging.FieldSessionID, summary.ID),
		)
		return
	}
	d.dispatch("session", func(ctx context.Context) error {
		return d.svc.NotifySessionFinished(ctx, summary)
	})
}

// MountChanged sends an alert when the player is left degraded.
func (d *Dispatcher) MountChanged(change status.Change) {
	if change.New != status.Degraded || !Enabled(d.svc) {
		return
	}
	d.dispatch("degraded", func(ctx context.Context) error {
		return d.svc.NotifyDeviceDegraded(ctx, change.MountPoint, change.Err)
	})
}

// Wait blocks until in-flight notifications finish or time out.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(kind string, send func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			logging.WarnWithContext(d.logger, "notification delivery failed", "notify_failed",
				logging.String("notification", kind),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notify.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "the sync result was not pushed"),
			)
		}
	}()
}

func sessionClean(summary status.SessionSummary) bool {
	return summary.Error == "" && summary.UnmountError == "" && summary.Failed == 0 && summary.Evicted == 0
}

func sessionEmpty(summary status.SessionSummary) bool {
	return summary.Error == "" && summary.Succeeded+summary.Failed+summary.Skipped+summary.Evicted == 0
}
