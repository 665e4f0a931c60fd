// Package daemon coordinates the long-running ipoddock process and its
// system integration points.
//
// It wires configuration, the queue store, the sync orchestrator, the USB
// netlink monitor, the inbox watcher and the HTTP API into a single lifecycle
// with flock-based locking to prevent multiple instances. Every producer
// (USB attach, inbox drop, API call) ends in Orchestrator.TriggerAsync, so
// concurrent triggers coalesce into one session.
//
// Keep orchestration logic here: the sync state machine lives in syncer and
// storage rules in queue, while the daemon focuses on startup, shutdown and
// request plumbing.
package daemon
