package bridge

import "github.com/tailored-agentic-units/relay/observability"

// Bridge event types emitted over a plugin session's lifetime.
const (
	EventSessionOpen     observability.EventType = "relay.session.open"
	EventSessionRejected observability.EventType = "relay.session.rejected"
	EventSessionClose    observability.EventType = "relay.session.close"
	EventRecognized      observability.EventType = "relay.recognized"
	EventTrigger         observability.EventType = "relay.trigger"
)
