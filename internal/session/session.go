// ABOUTME: Session entity and lifecycle phase state machine.
// ABOUTME: Maintains the pairing-code/phase invariant across transitions.

package session

import "sync"

// Phase is the current lifecycle state of a session.
type Phase int

const (
	// PhaseUninitialized is the transient state between registration and
	// the adapter's first event.
	PhaseUninitialized Phase = iota

	// PhaseQRPending means a pairing code has been issued and is waiting
	// to be scanned.
	PhaseQRPending

	// PhaseReady means the session is authenticated and can send messages.
	PhaseReady

	// PhaseDisconnected means the underlying connection dropped. The
	// session stays registered and may transition again on reconnect.
	PhaseDisconnected

	// PhaseAuthFailed means the last authentication attempt was rejected.
	PhaseAuthFailed
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseQRPending:
		return "qr_pending"
	case PhaseReady:
		return "ready"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Session is one tenant's logical messaging connection. All state is
// guarded by mu; the adapter is owned exclusively by this session.
type Session struct {
	ID string

	mu      sync.RWMutex
	phase   Phase
	qr      string // pairing code data URL, non-empty iff phase == PhaseQRPending
	adapter Adapter
	removed bool
}

func newSession(id string) *Session {
	return &Session{ID: id, phase: PhaseUninitialized}
}

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Ready reports whether the session is authenticated and can send.
func (s *Session) Ready() bool {
	return s.Phase() == PhaseReady
}

// QR returns the pending pairing code image, or "" outside QRPending.
func (s *Session) QR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// attach hands the freshly constructed adapter to the session. Returns
// false if the session was logged out while the adapter was being built;
// the caller then owns the adapter's teardown.
func (s *Session) attach(a Adapter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return false
	}
	s.adapter = a
	return true
}

// beginRemoval marks the session as removed when no adapter is attached
// yet, so a construction still in flight cannot attach afterwards. If an
// adapter won the race and attached first, it is returned instead and
// the removed flag is left unset.
func (s *Session) beginRemoval() Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter != nil {
		return s.adapter
	}
	s.removed = true
	return nil
}

func (s *Session) adapterRef() Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adapter
}

// enterQRPending stores a freshly issued pairing code. Re-entry from any
// phase (including Ready, on re-pairing) is an ordinary transition.
func (s *Session) enterQRPending(qr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseQRPending
	s.qr = qr
}

func (s *Session) enterReady() {
	s.setPhase(PhaseReady)
}

func (s *Session) enterDisconnected() {
	s.setPhase(PhaseDisconnected)
}

func (s *Session) enterAuthFailed() {
	s.setPhase(PhaseAuthFailed)
}

// setPhase moves to a non-QRPending phase, clearing any pending code.
func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	s.qr = ""
}

// Info is a point-in-time snapshot of a session for listings.
type Info struct {
	ID    string `json:"session_id"`
	Phase string `json:"phase"`
	Ready bool   `json:"ready"`
}

// Snapshot returns a consistent snapshot of the session's public state.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:    s.ID,
		Phase: s.phase.String(),
		Ready: s.phase == PhaseReady,
	}
}
