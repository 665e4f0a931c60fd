// Package notifications pushes sync outcomes to ntfy.
//
// NewService returns a no-op implementation when notify.ntfy_topic is empty,
// so callers never branch on whether notifications are configured. Dispatcher
// adapts a Service to the orchestrator's session recorder and the status
// publisher's mount callbacks, sending in the background with a bounded
// timeout so a slow ntfy server never holds up a sync.
package notifications
