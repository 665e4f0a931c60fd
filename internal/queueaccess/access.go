// Package queueaccess gives the CLI one queue interface whether the daemon is
// reachable over HTTP or the store has to be opened directly.
package queueaccess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ipoddock/internal/api"
	"ipoddock/internal/queue"
	"ipoddock/internal/services"
)

// Access provides queue operations regardless of HTTP or direct store backing.
type Access interface {
	Stats(ctx context.Context) (api.QueueStats, error)
	List(ctx context.Context) ([]api.QueueItem, error)
	Add(ctx context.Context, path string, opts api.UploadOptions) (api.QueueItem, error)
	Delete(ctx context.Context, trackID string) (api.QueueItem, error)
	Remove(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context) (int64, error)
	Failures(ctx context.Context, limit int) ([]api.Failure, error)
	ClearFailures(ctx context.Context) (int64, error)
	Health(ctx context.Context) (api.DatabaseHealth, error)
	// Remote reports whether calls go through the daemon.
	Remote() bool
}

// NewHTTPAccess returns an Access backed by the daemon API.
func NewHTTPAccess(client *api.Client) Access {
	return &httpAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access.
func NewStoreAccess(store *queue.Store) Access {
	return &storeAccess{store: store}
}

type httpAccess struct {
	client *api.Client
}

func (a *httpAccess) Stats(ctx context.Context) (api.QueueStats, error) {
	st, err := a.client.Status(ctx)
	if err != nil {
		return api.QueueStats{}, err
	}
	return st.Queue, nil
}

func (a *httpAccess) List(ctx context.Context) ([]api.QueueItem, error) {
	return a.client.ListQueue(ctx)
}

func (a *httpAccess) Add(ctx context.Context, path string, opts api.UploadOptions) (api.QueueItem, error) {
	return a.client.Upload(ctx, path, opts)
}

func (a *httpAccess) Delete(ctx context.Context, trackID string) (api.QueueItem, error) {
	return a.client.EnqueueDelete(ctx, trackID)
}

func (a *httpAccess) Remove(ctx context.Context, id string) (bool, error) {
	return a.client.Remove(ctx, id)
}

func (a *httpAccess) Clear(ctx context.Context) (int64, error) {
	return a.client.Clear(ctx)
}

func (a *httpAccess) Failures(ctx context.Context, limit int) ([]api.Failure, error) {
	return a.client.Failures(ctx, limit)
}

func (a *httpAccess) ClearFailures(ctx context.Context) (int64, error) {
	return a.client.ClearFailures(ctx)
}

func (a *httpAccess) Health(ctx context.Context) (api.DatabaseHealth, error) {
	return a.client.Health(ctx)
}

func (a *httpAccess) Remote() bool { return true }

type storeAccess struct {
	store *queue.Store
}

func (a *storeAccess) Stats(ctx context.Context) (api.QueueStats, error) {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return api.QueueStats{}, err
	}
	return api.FromStats(st), nil
}

func (a *storeAccess) List(ctx context.Context) ([]api.QueueItem, error) {
	items, err := a.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return api.FromQueueItems(items), nil
}

func (a *storeAccess) Add(ctx context.Context, path string, opts api.UploadOptions) (api.QueueItem, error) {
	absPath, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return api.QueueItem{}, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return api.QueueItem{}, services.Wrap(services.ErrValidation, "queueaccess", "add", "stat source file", err)
	}
	if info.IsDir() {
		return api.QueueItem{}, services.Wrap(services.ErrValidation, "queueaccess", "add", fmt.Sprintf("%q is a directory", absPath), nil)
	}
	req := queue.EnqueueRequest{
		Kind:         queue.KindAdd,
		OriginalName: info.Name(),
		Playlist:     opts.Playlist,
		Metadata: queue.Metadata{
			Title:       opts.Metadata.Title,
			Artist:      opts.Metadata.Artist,
			Album:       opts.Metadata.Album,
			Genre:       opts.Metadata.Genre,
			TrackNumber: opts.Metadata.TrackNumber,
		},
	}
	if opts.Category != "" {
		category, err := queue.ParseCategory(opts.Category)
		if err != nil {
			return api.QueueItem{}, services.Wrap(services.ErrValidation, "queueaccess", "add", "", err)
		}
		req.Category = category
	}
	item, err := a.store.EnqueueFile(ctx, req, absPath)
	if err != nil {
		return api.QueueItem{}, err
	}
	return api.FromQueueItem(item), nil
}

func (a *storeAccess) Delete(ctx context.Context, trackID string) (api.QueueItem, error) {
	item, err := a.store.Enqueue(ctx, queue.EnqueueRequest{Kind: queue.KindDelete, TrackID: trackID}, nil)
	if err != nil {
		return api.QueueItem{}, err
	}
	return api.FromQueueItem(item), nil
}

func (a *storeAccess) Remove(ctx context.Context, id string) (bool, error) {
	return a.store.Remove(ctx, id)
}

func (a *storeAccess) Clear(ctx context.Context) (int64, error) {
	return a.store.Clear(ctx)
}

func (a *storeAccess) Failures(ctx context.Context, limit int) ([]api.Failure, error) {
	failures, err := a.store.ListFailures(ctx, limit)
	if err != nil {
		return nil, err
	}
	return api.FromFailures(failures), nil
}

func (a *storeAccess) ClearFailures(ctx context.Context) (int64, error) {
	return a.store.ClearFailures(ctx)
}

func (a *storeAccess) Health(ctx context.Context) (api.DatabaseHealth, error) {
	health, err := a.store.CheckHealth(ctx)
	if err != nil {
		return api.DatabaseHealth{}, err
	}
	return api.FromDatabaseHealth(health), nil
}

func (a *storeAccess) Remote() bool { return false }
