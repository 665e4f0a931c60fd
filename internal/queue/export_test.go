package queue

import "context"

// ClearListed exposes the second half of Clear so tests can enqueue between
// the listing and the delete.
func (s *Store) ClearListed(ctx context.Context, items []*Item) (int64, error) {
	return s.clearListed(ctx, items)
}
