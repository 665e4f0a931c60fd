// Package syncer runs sync sessions: it drains the durable queue onto the
// player through the device database, then reconciles the queue with what
// was committed.
//
// A session moves through idle, draining, mounted, applying, committing and
// unmounting, returning to idle. Failures after the device is mounted pass
// through the error state and still unmount. Two rules hold on every path:
// the device handle is released exactly once per successful acquire, and
// the database is committed at most once per session, only when at least
// one item applied cleanly. Cleanup (commit, close, release, queue
// reconciliation) runs under a context detached from the session deadline
// and bounded by workflow.cleanup_timeout_seconds.
//
// Only one session runs at a time. Sync and TriggerAsync calls that arrive
// while a session is in flight are coalesced: Sync returns at once with
// Coalesced set, and TriggerAsync reports false.
package syncer
