// Package services defines shared error markers and context helpers consumed by
// the queue, device, and sync packages.
//
// Key responsibilities:
//   - Structured error markers (storage, device, transcode, import, commit...)
//     plus the Wrap helper so every failure carries one taxonomy class.
//   - Context helpers that stamp queue item IDs, session IDs, and correlation
//     identifiers for logging.
package services
