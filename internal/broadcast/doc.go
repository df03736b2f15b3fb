// ABOUTME: Package documentation for the event broadcaster.
// ABOUTME: One topic per session, non-blocking delivery, no replay.

// Package broadcast fans session lifecycle events out to observers.
// Each session id is its own topic; subscribers on other topics never
// see the event. Delivery is non-blocking and events are dropped for
// subscribers that fall behind.
package broadcast
