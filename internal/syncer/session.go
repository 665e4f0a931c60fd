package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ipoddock/internal/device"
	"ipoddock/internal/devicedb"
	"ipoddock/internal/logging"
	"ipoddock/internal/metrics"
	"ipoddock/internal/queue"
	"ipoddock/internal/services"
)

func (o *Orchestrator) run(parent context.Context, reason string) SessionResult {
	res := SessionResult{ID: uuid.NewString(), Reason: reason, StartedAt: time.Now()}
	ctx, cancel := context.WithTimeout(services.WithSessionID(parent, res.ID), o.timeout)
	defer cancel()
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("sync session started", logging.String("reason", reason))

	o.setState(StateDraining)
	items, err := o.store.ListPending(ctx)
	if err != nil {
		res.Err = services.Wrap(services.ErrStorage, "syncer", "drain queue", "", err)
		return o.finish(logger, res)
	}
	if len(items) == 0 {
		res.Empty = true
		logger.Info("queue empty, device left alone",
			logging.String("decision_type", "sync_mount"),
			logging.String("decision_result", "skipped"),
			logging.String("decision_reason", "no pending items"),
		)
		return o.finish(logger, res)
	}
	metrics.SetQueueDepth(len(items))

	handle, err := o.mounter.Acquire(ctx, o.devicePath)
	if err != nil {
		res.Err = err
		res.Items = skipAll(items, err)
		logging.WarnWithContext(logger, "device acquire failed", "device_acquire_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
			logging.String(logging.FieldImpact, "queue left untouched until the next sync"),
			logging.String(logging.FieldErrorHint, "check that the player is connected and not mounted elsewhere"),
		)
		return o.finish(logger, res)
	}
	o.setState(StateMounted)
	logger = logger.With(logging.String(logging.FieldMountPoint, handle.MountPoint))

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		o.setState(StateUnmounting)
		cctx, ccancel := o.cleanupContext(ctx)
		defer ccancel()
		res.UnmountErr = o.mounter.Release(cctx, handle)
	}
	defer release()

	res.Items = o.apply(ctx, logger, handle, items, &res)
	release()
	o.reconcile(ctx, logger, items, &res)
	return o.finish(logger, res)
}

// cleanupContext keeps session values but not its deadline or cancellation.
func (o *Orchestrator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
}

// apply imports and removes tracks, then commits once if anything applied.
// The returned outcomes are index-aligned with items.
func (o *Orchestrator) apply(ctx context.Context, logger *slog.Logger, handle *device.Handle, items []*queue.Item, res *SessionResult) []ItemOutcome {
	o.setState(StateApplying)
	db, err := o.opener.Open(ctx, handle.MountPoint)
	if err != nil {
		res.Err = services.Wrap(services.ErrImport, "syncer", "open device database", "", err)
		o.setState(StateError)
		logger.Error("device database unavailable", logging.Error(err), logging.String(logging.FieldEventType, "devicedb_open_failed"))
		return skipAll(items, res.Err)
	}

	outcomes := make([]ItemOutcome, len(items))
	for i, item := range items {
		if ctx.Err() != nil {
			for j := i; j < len(items); j++ {
				outcomes[j] = skipped(items[j], ctx.Err())
			}
			logging.WarnWithContext(logger, "session deadline reached", "sync_deadline",
				logging.Int("remaining", len(items)-i),
				logging.String(logging.FieldImpact, "remaining items stay queued for the next sync"),
				logging.String(logging.FieldErrorHint, "raise workflow.sync_timeout_seconds for large batches"),
			)
			break
		}
		outcome := o.applyItem(ctx, logger, db, item)
		if outcome.Status == ItemFailed && ctx.Err() != nil {
			// Interrupted mid-item, not a property of the item.
			outcome.Status = ItemSkipped
			outcome.Retained = true
		}
		outcomes[i] = outcome
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Status == ItemSucceeded {
			succeeded++
		}
	}

	cctx, ccancel := o.cleanupContext(ctx)
	defer ccancel()
	if succeeded > 0 {
		o.setState(StateCommitting)
		if err := db.Commit(cctx); err != nil {
			res.Err = services.Wrap(services.ErrCommit, "syncer", "commit device database", "", err)
			o.setState(StateError)
			logger.Error("device database commit failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "commit_failed"),
				logging.String(logging.FieldErrorHint, "items stay queued and will be retried"),
			)
		} else {
			res.Committed = true
			logger.Info("device database committed", logging.Int("tracks_changed", succeeded))
		}
	} else {
		logger.Debug("nothing to commit",
			logging.String("decision_type", "sync_commit"),
			logging.String("decision_result", "skipped"),
			logging.String("decision_reason", "no item applied"),
		)
	}
	if err := db.Close(); err != nil {
		logging.WarnWithContext(logger, "device database close failed", "devicedb_close_failed", logging.Error(err))
	}
	return outcomes
}

func (o *Orchestrator) applyItem(ctx context.Context, logger *slog.Logger, db devicedb.Database, item *queue.Item) ItemOutcome {
	ctx = services.WithItemID(ctx, item.ID)
	logger = logger.With(logging.String(logging.FieldItemID, item.ID))
	outcome := ItemOutcome{ItemID: item.ID, Kind: item.Kind, Name: item.DisplayName()}

	var err error
	switch item.Kind {
	case queue.KindAdd:
		outcome.TrackID, err = o.addTrack(ctx, logger, db, item)
	case queue.KindDelete:
		outcome.TrackID = item.TrackID
		err = db.RemoveTrack(ctx, item.TrackID)
		if errors.Is(err, devicedb.ErrTrackNotFound) {
			logger.Info("track already absent", logging.String("track_id", item.TrackID))
			err = nil
		} else if err != nil {
			err = services.Wrap(services.ErrImport, "syncer", "remove track", item.TrackID, err)
		}
	default:
		err = fmt.Errorf("%w: unknown item kind %q", queue.ErrPoison, item.Kind)
	}

	if err != nil {
		outcome.Status = ItemFailed
		outcome.Err = err
		logging.WarnWithContext(logger, "item failed", "item_failed",
			logging.String("name", outcome.Name),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
			logging.Bool("poison", errors.Is(err, queue.ErrPoison)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item will not reach the player"),
		)
		return outcome
	}
	outcome.Status = ItemSucceeded
	logger.Info("item applied", logging.String("name", outcome.Name), logging.String("track_id", outcome.TrackID))
	return outcome
}

func (o *Orchestrator) addTrack(ctx context.Context, logger *slog.Logger, db devicedb.Database, item *queue.Item) (string, error) {
	path, err := o.store.OpenStaged(item)
	if err != nil {
		return "", err
	}
	importPath := path
	if !o.transcoder.IsCompatible(path) {
		converted, err := o.transcoder.Convert(ctx, path)
		if err != nil {
			return "", err
		}
		defer o.transcoder.Cleanup(converted)
		importPath = converted
	}

	meta, err := o.transcoder.Probe(ctx, importPath)
	if err != nil {
		logger.Debug("tag probe failed, using queued metadata", logging.Error(err))
		meta = devicedb.TrackMetadata{}
	}
	meta = mergeMetadata(meta, item)

	trackID, err := db.ImportFile(ctx, importPath, meta)
	if err != nil {
		return "", services.Wrap(services.ErrImport, "syncer", "import track", item.DisplayName(), err)
	}
	return trackID, nil
}

// mergeMetadata lays the producer's values over probed tags.
func mergeMetadata(meta devicedb.TrackMetadata, item *queue.Item) devicedb.TrackMetadata {
	over := item.Metadata
	if over.Title != "" {
		meta.Title = over.Title
	}
	if over.Artist != "" {
		meta.Artist = over.Artist
	}
	if over.Album != "" {
		meta.Album = over.Album
	}
	if over.Genre != "" {
		meta.Genre = over.Genre
	}
	if over.TrackNumber > 0 {
		meta.TrackNumber = over.TrackNumber
	}
	if meta.Title == "" {
		base := filepath.Base(item.OriginalName)
		meta.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	meta.Category = string(item.Category)
	meta.Playlist = item.Playlist
	return meta
}

// reconcile settles the queue after the device is released. It runs on a
// detached context so an expired session deadline cannot strand items.
func (o *Orchestrator) reconcile(ctx context.Context, logger *slog.Logger, items []*queue.Item, res *SessionResult) {
	cctx, cancel := o.cleanupContext(ctx)
	defer cancel()

	commitFailed := errors.Is(res.Err, services.ErrCommit)
	if commitFailed {
		o.retainApplied(cctx, logger, items, res)
		return
	}

	for i, item := range items {
		outcome := &res.Items[i]
		switch outcome.Status {
		case ItemSucceeded:
			if _, err := o.store.Remove(cctx, item.ID); err != nil {
				o.storageFault(logger, res, "remove applied item", err)
			}
		case ItemFailed:
			if err := o.store.RecordFailure(cctx, item, outcome.ErrorText()); err != nil {
				o.storageFault(logger, res, "record failure", err)
				outcome.Retained = true
				continue
			}
			if _, err := o.store.Remove(cctx, item.ID); err != nil {
				o.storageFault(logger, res, "remove failed item", err)
			}
		case ItemSkipped:
			outcome.Retained = true
		}
	}
}

// retainApplied keeps every applied item queued with one more attempt and
// evicts those that reached the ceiling.
func (o *Orchestrator) retainApplied(ctx context.Context, logger *slog.Logger, items []*queue.Item, res *SessionResult) {
	reason := res.Err.Error()
	ids := make([]string, 0, len(items))
	for i, item := range items {
		if res.Items[i].Status == ItemSkipped {
			res.Items[i].Retained = true
			continue
		}
		ids = append(ids, item.ID)
	}
	if err := o.store.IncrementAttempts(ctx, ids, reason); err != nil {
		o.storageFault(logger, res, "increment attempts", err)
		return
	}

	for i, item := range items {
		outcome := &res.Items[i]
		if outcome.Status == ItemSkipped {
			continue
		}
		if outcome.Err == nil {
			outcome.Err = res.Err
		}
		attempts := item.Attempts + 1
		if attempts < o.maxAttempts {
			outcome.Status = ItemFailed
			outcome.Retained = true
			continue
		}
		evicted := *item
		evicted.Attempts = attempts
		if err := o.store.RecordFailure(ctx, &evicted, reason); err != nil {
			o.storageFault(logger, res, "record eviction", err)
			outcome.Status = ItemFailed
			outcome.Retained = true
			continue
		}
		if _, err := o.store.Remove(ctx, item.ID); err != nil {
			o.storageFault(logger, res, "remove evicted item", err)
		}
		outcome.Status = ItemEvicted
		logging.WarnWithContext(logger, "item evicted after repeated commit failures", "item_evicted",
			logging.String(logging.FieldItemID, item.ID),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldImpact, "item dropped from the queue and recorded in the failure log"),
			logging.String(logging.FieldErrorHint, "inspect the player filesystem, then re-enqueue"),
		)
	}
}

func (o *Orchestrator) storageFault(logger *slog.Logger, res *SessionResult, op string, err error) {
	wrapped := services.Wrap(services.ErrStorage, "syncer", op, "", err)
	if res.Err == nil {
		res.Err = wrapped
	}
	logging.WarnWithContext(logger, "queue reconciliation failed", "queue_reconcile_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldImpact, "applied items may be replayed on the next sync"),
		logging.String(logging.FieldErrorHint, "check disk space and permissions on paths.queue_dir"),
	)
}

func (o *Orchestrator) finish(logger *slog.Logger, res SessionResult) SessionResult {
	res.FinishedAt = time.Now()
	for _, item := range res.Items {
		metrics.RecordItem(string(item.Kind), string(item.Status))
	}
	metrics.RecordSession(res.Outcome(), res.Duration())
	if !res.Empty {
		if pending, err := o.store.ListPending(context.Background()); err == nil {
			metrics.SetQueueDepth(len(pending))
		}
	}
	if o.recorder != nil {
		o.recorder.RecordSession(res.StatusSummary())
	}

	o.mu.Lock()
	stored := res
	stored.Items = append([]ItemOutcome(nil), res.Items...)
	o.last = &stored
	o.mu.Unlock()
	o.setState(StateIdle)

	attrs := []logging.Attr{
		logging.String("outcome", res.Outcome()),
		logging.Int("succeeded", res.Succeeded()),
		logging.Int("failed", res.Failed()),
		logging.Int("skipped", res.Skipped()),
		logging.Int("evicted", res.Evicted()),
		logging.Bool("committed", res.Committed),
		logging.Duration("duration", res.Duration()),
	}
	if res.Err != nil {
		attrs = append(attrs, logging.Error(res.Err), logging.String(logging.FieldErrorKind, services.Classify(res.Err)))
	}
	if res.UnmountErr != nil {
		attrs = append(attrs, logging.Any("unmount_error", res.UnmountErr))
	}
	logger.Info("sync session finished", logging.Args(attrs...)...)
	return res
}

func skipAll(items []*queue.Item, err error) []ItemOutcome {
	outcomes := make([]ItemOutcome, len(items))
	for i, item := range items {
		outcomes[i] = skipped(item, err)
	}
	return outcomes
}

func skipped(item *queue.Item, err error) ItemOutcome {
	return ItemOutcome{
		ItemID:   item.ID,
		Kind:     item.Kind,
		Name:     item.DisplayName(),
		Status:   ItemSkipped,
		TrackID:  item.TrackID,
		Err:      err,
		Retained: true,
	}
}
