// Package logging assembles structured slog loggers and formatting helpers used
// across ipoddock services.
//
// It owns the console and JSON handlers, routes file output through a
// rotating writer, and exposes context-aware helpers so sync code can tag log
// lines with queue item IDs, session IDs, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
