package queueaccess

import (
	"context"
	"errors"
	"fmt"

	"ipoddock/internal/api"
	"ipoddock/internal/queue"
)

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access Access
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback uses the daemon API when it answers and falls back to
// opening the store directly when it is unavailable. Any other API error
// (bad token, server failure) is returned rather than hidden by the fallback.
func OpenWithFallback(
	ctx context.Context,
	client *api.Client,
	openStore func() (*queue.Store, error),
) (Session, error) {
	if client != nil {
		_, err := client.Status(ctx)
		if err == nil {
			return Session{Access: NewHTTPAccess(client)}, nil
		}
		if !errors.Is(err, api.ErrAPIUnavailable) {
			return Session{}, err
		}
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store),
		close:  store.Close,
	}, nil
}
