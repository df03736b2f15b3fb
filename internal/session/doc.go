// Package session implements the session lifecycle and multiplexing core.
//
// # Overview
//
// A session wraps one tenant's messaging connection. Sessions are created
// on demand, progress through a small phase machine driven entirely by
// adapter events, and are removed only by explicit logout.
//
// # Registry
//
// The Registry is the single source of truth for which sessions exist:
//
//	reg := session.NewRegistry()
//
// Key operations:
//
//   - Create(id): insert-if-absent, idempotent
//   - Get(id): look up a live session
//   - Remove(id): delete on logout
//   - List(): snapshot all sessions
//
// All operations are atomic with respect to concurrent callers; no caller
// can observe a half-constructed session, and concurrent Create calls for
// one id insert exactly once.
//
// # Manager
//
// The Manager drives lifecycle transitions and their side effects:
//
//	mgr := session.NewManager(session.ManagerParams{
//	    Factory: factory,
//	    Events:  broadcaster,
//	    Syncer:  syncer,
//	    AuthDir: cfg.Sessions.AuthDir,
//	    Logger:  logger,
//	})
//
// Each session gets one goroutine that pumps its adapter's event channel
// and applies the transition table:
//
//	pairing-code-issued -> QRPending    (store code, broadcast qr, sync "pending")
//	authenticated-ready -> Ready        (clear code, broadcast ready, sync "connected")
//	auth-failure        -> AuthFailed   (broadcast auth_failure, sync "auth_failed")
//	connection-lost     -> Disconnected (broadcast disconnected, sync "disconnected")
//
// Transitions are never rejected based on the source phase: the adapter is
// the sole driver and duplicate or out-of-order events re-apply the same
// idempotent side effects. The invariant maintained across every
// transition is that a pending pairing code exists if and only if the
// phase is QRPending.
//
// # Adapter boundary
//
// The protocol client behind a session is opaque. It is reached only
// through the Adapter interface (event stream, SendText, Logout, Close)
// and constructed through a Factory. Adapter initialization is
// asynchronous and has no timeout; a session whose adapter never emits
// anything stays parked in Uninitialized.
package session
