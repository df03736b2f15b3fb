// ABOUTME: Broadcast event type fanned out to realtime observers.
// ABOUTME: One event per lifecycle transition, scoped to a single session.

package session

// EventType names a broadcast lifecycle event.
type EventType string

const (
	EventQR           EventType = "qr"
	EventReady        EventType = "ready"
	EventAuthFailure  EventType = "auth_failure"
	EventDisconnected EventType = "disconnected"
)

// Event is a lifecycle notification delivered to observers subscribed to
// the session's topic. Observers joining late are not replayed past
// events; they query current state separately.
type Event struct {
	Type      EventType `json:"event"`
	SessionID string    `json:"sessionId"`

	// QR carries the pairing code image data URL, set only for EventQR.
	QR string `json:"data,omitempty"`
}
