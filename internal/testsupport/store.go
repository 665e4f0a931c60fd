package testsupport

import (
	"context"
	"strings"
	"testing"

	"ipoddock/internal/config"
	"ipoddock/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueAdd stages an add item whose payload is content.
func EnqueueAdd(t testing.TB, store *queue.Store, name, content string) *queue.Item {
	t.Helper()

	item, err := store.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind:         queue.KindAdd,
		OriginalName: name,
	}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("store.Enqueue(%s): %v", name, err)
	}
	return item
}

// EnqueueDelete queues removal of a device track.
func EnqueueDelete(t testing.TB, store *queue.Store, trackID string) *queue.Item {
	t.Helper()

	item, err := store.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind:    queue.KindDelete,
		TrackID: trackID,
	}, nil)
	if err != nil {
		t.Fatalf("store.Enqueue(delete %s): %v", trackID, err)
	}
	return item
}
