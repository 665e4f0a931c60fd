// Command ipoddock runs the sync daemon and talks to it.
//
// Queue commands go through the daemon's HTTP API and fall back to opening
// the queue database directly when no daemon answers, so files can be queued
// while the daemon is down and synced when it next starts.
package main
