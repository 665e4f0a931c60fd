// Package daemonrun assembles the daemon's collaborators and runs it until
// the process is signalled.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"ipoddock/internal/config"
	"ipoddock/internal/daemon"
	"ipoddock/internal/device"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/logging"
	"ipoddock/internal/notifications"
	"ipoddock/internal/queue"
	"ipoddock/internal/status"
	"ipoddock/internal/syncer"
	"ipoddock/internal/transcode"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the ipoddock daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg, queue.WithLogger(logger))
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store", "queue_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.queue_dir permissions and free space"),
		)
		return err
	}

	notifier := notifications.NewDispatcher(
		notifications.NewService(cfg),
		cfg.Notify.OnSuccess,
		cfg.NotifyTimeout(),
		logger,
	)
	defer notifier.Wait()

	publisher := status.NewPublisher(logger)
	unsubscribe := publisher.OnMountChange(func(change status.Change) {
		notifier.MountChanged(change)
		if change.New == status.Degraded {
			logging.WarnWithContext(logger, "player left in a degraded state", "device_degraded",
				logging.String(logging.FieldMountPoint, change.MountPoint),
				logging.Error(change.Err),
				logging.String(logging.FieldErrorHint, "check for processes holding the mount point, then unplug safely"),
				logging.String(logging.FieldImpact, "the player may still be mounted"),
			)
		}
	})
	defer unsubscribe()

	orch := syncer.New(cfg, syncer.Dependencies{
		Store:      store,
		Mounter:    device.NewManager(cfg, device.WithLogger(logger), device.WithObserver(publisher)),
		Opener:     devicedb.NewLibrary(logger),
		Transcoder: transcode.New(cfg, logger),
		Recorder:   sessionRecorders{publisher, notifier},
	}, logger)

	d, err := daemon.New(cfg, store, orch, publisher, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logConfigSnapshot(logger, cfg)
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("ipoddock daemon shutting down")
	return nil
}

// sessionRecorders fans a finished session out to every recorder in order.
type sessionRecorders []syncer.SessionRecorder

func (r sessionRecorders) RecordSession(summary status.SessionSummary) {
	for _, rec := range r {
		rec.RecordSession(summary)
	}
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("api_bind", cfg.API.Bind),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.API.Token) != ""),
		logging.String(logging.FieldDevice, cfg.Device.Device),
		logging.Bool("auto_detect", cfg.Device.AutoDetect),
		logging.String(logging.FieldMountPoint, cfg.Device.MountPoint),
		logging.Bool("inbox_enabled", cfg.Inbox.Enabled),
		logging.Bool("auto_sync", cfg.Workflow.AutoSync),
		logging.Duration("sync_timeout", cfg.SyncTimeout()),
		logging.Int("max_attempts", cfg.Workflow.MaxAttempts),
		logging.Bool("notify_enabled", cfg.Notify.NtfyTopic != ""),
	)
}
