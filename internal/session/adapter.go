// ABOUTME: Adapter boundary for the underlying messaging-protocol connection.
// ABOUTME: The protocol client is opaque; it only emits events and sends messages.

package session

import "context"

// AdapterEventKind identifies a lifecycle event emitted by an adapter.
type AdapterEventKind int

const (
	// AdapterQR means a pairing code was issued and must be scanned.
	AdapterQR AdapterEventKind = iota

	// AdapterReady means the connection is authenticated and usable.
	AdapterReady

	// AdapterAuthFailure means authentication was rejected or revoked.
	AdapterAuthFailure

	// AdapterDisconnected means the connection dropped.
	AdapterDisconnected
)

// AdapterEvent is a single lifecycle event from an adapter. Events on one
// adapter's channel are emitted in order; the manager trusts them verbatim
// and never rejects a transition based on the current phase.
type AdapterEvent struct {
	Kind AdapterEventKind

	// Code is the raw pairing code, set only for AdapterQR.
	Code string

	// Reason optionally describes auth failures and disconnects.
	Reason string
}

// Adapter is the opaque per-session messaging connection. Implementations
// own the protocol internals (handshake, transport, retries); the manager
// only consumes the event stream and delegates sends.
//
// The Events channel is closed when the adapter shuts down for good.
type Adapter interface {
	// Events returns the adapter's lifecycle event stream.
	Events() <-chan AdapterEvent

	// SendText delivers a message to the recipient and returns the
	// protocol-level message ID. Blocks for the protocol round-trip.
	SendText(ctx context.Context, recipient, body string) (string, error)

	// Logout invalidates the session's credentials with the remote service.
	Logout(ctx context.Context) error

	// Close tears down the connection and releases resources.
	Close()
}

// Factory constructs the adapter for a new session. Construction happens
// asynchronously after registration; a factory error leaves the session
// parked in Uninitialized.
type Factory func(ctx context.Context, sessionID string) (Adapter, error)
