// ABOUTME: Package documentation for the gateway HTTP and websocket surface.
// ABOUTME: Describes the route table and how errors map to status codes.

// Package gateway exposes the session manager over HTTP and a websocket
// realtime channel.
//
// The HTTP surface covers the full session lifecycle: create-session,
// qr, status, send-message, logout, plus sessions and healthz for
// operators. Handlers translate the manager's sentinel errors into
// status codes (unknown session 404, not ready 403, bad recipient 400)
// and keep response bodies in the {"error": ...} shape throughout.
//
// GET /ws upgrades to a websocket on which clients join session topics;
// every lifecycle event published for a joined session is forwarded as
// a JSON frame. Joining an id that does not exist yet creates the
// session, so a UI can open the socket first and drive pairing entirely
// from pushed events.
package gateway
