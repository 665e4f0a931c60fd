// Package api defines the JSON payloads exchanged between the daemon's HTTP
// server and the CLI, plus the client the CLI uses to reach a running daemon.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds.
// Converters translate queue, syncer and status models so neither the server
// handlers nor the CLI depend on storage types directly.
//
// Client reports ErrAPIUnavailable when nothing is listening, which callers
// use to fall back to opening the queue store directly.
package api
