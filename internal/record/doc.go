// ABOUTME: Package documentation for the system-of-record integration.
// ABOUTME: Covers the HTTP client and the detached status syncer.

// Package record talks to the external system of record that tracks
// which sessions should exist and what state they were last seen in.
//
// Client is a thin HTTP wrapper for listing sessions and updating a
// session's status. Syncer wraps it in a single-worker queue so status
// pushes never block the caller; updates are best effort and failures
// are only logged.
package record
