// ABOUTME: Manages the session lifecycle: creation, event-driven transitions, teardown.
// ABOUTME: Central coordinator between adapters, the registry, broadcast, and record sync.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/wamux/wamux/internal/qrimg"
	"github.com/wamux/wamux/internal/record"
)

// ErrNotFound indicates the session id is not registered.
var ErrNotFound = errors.New("session not found")

// ErrNotReady indicates an operation that requires an authenticated
// session was attempted outside the Ready phase.
var ErrNotReady = errors.New("session not ready")

// ErrInvalidRecipient indicates the recipient identifier is not purely numeric.
var ErrInvalidRecipient = errors.New("recipient must contain only digits")

// ErrNoQR indicates the session exists but has no pending pairing code.
var ErrNoQR = errors.New("qr code not available")

var recipientPattern = regexp.MustCompile(`^[0-9]+$`)

// EventSink receives lifecycle events for fan-out to observers. Publish
// must not block; slow observers are the sink's problem.
type EventSink interface {
	Publish(sessionID string, evt *Event)
}

// StatusSyncer mirrors session status to the system of record.
// Push is fire-and-forget and must never block.
type StatusSyncer interface {
	Push(sessionID, status string)
}

// SessionLister queries the system of record for known sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]record.SessionEntry, error)
}

// Manager drives every session's lifecycle. It owns the registry, builds
// adapters through the factory, and applies adapter events as phase
// transitions with their broadcast and sync side effects.
type Manager struct {
	registry *Registry
	factory  Factory
	events   EventSink
	syncer   StatusSyncer
	authDir  string
	encodeQR func(code string) (string, error)
	logger   *slog.Logger
}

// ManagerParams configures a Manager.
type ManagerParams struct {
	Factory Factory
	Events  EventSink
	Syncer  StatusSyncer

	// AuthDir is the root of per-session auth artifacts, erased on logout.
	AuthDir string

	// EncodeQR converts a raw pairing code into displayable image data.
	// Defaults to qrimg.DataURL.
	EncodeQR func(code string) (string, error)

	Logger *slog.Logger
}

// NewManager creates a Manager with an empty registry.
func NewManager(p ManagerParams) *Manager {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.EncodeQR == nil {
		p.EncodeQR = qrimg.DataURL
	}
	return &Manager{
		registry: NewRegistry(),
		factory:  p.Factory,
		events:   p.Events,
		syncer:   p.Syncer,
		authDir:  p.AuthDir,
		encodeQR: p.EncodeQR,
		logger:   p.Logger.With("component", "session-manager"),
	}
}

// Create registers a session and begins asynchronous adapter
// initialization. Idempotent: if the id already exists the call is a
// no-op reporting created=false, and no second adapter is constructed.
// Callers learn of readiness by polling status or subscribing to events.
func (m *Manager) Create(ctx context.Context, id string) (created bool, err error) {
	if id == "" {
		return false, fmt.Errorf("session id is required")
	}

	sess, created := m.registry.Create(id)
	if !created {
		m.logger.Debug("session already exists", "session_id", id)
		return false, nil
	}

	m.logger.Info("session created", "session_id", id)
	go m.initialize(sess)
	return true, nil
}

// initialize constructs the adapter and pumps its events until the
// channel closes. A factory failure leaves the session parked in
// Uninitialized; there is no initialization timeout.
func (m *Manager) initialize(sess *Session) {
	ctx := context.Background()

	adapter, err := m.factory(ctx, sess.ID)
	if err != nil {
		m.logger.Error("adapter initialization failed",
			"session_id", sess.ID,
			"error", err)
		return
	}

	if !sess.attach(adapter) {
		// Logged out while the adapter was being constructed. Tear the
		// orphan down and erase any auth artifacts construction recreated.
		adapter.Close()
		m.removeAuthArtifacts(sess.ID)
		m.logger.Info("discarded adapter built for logged-out session",
			"session_id", sess.ID)
		return
	}

	for evt := range adapter.Events() {
		m.apply(sess, evt)
	}
	m.logger.Debug("adapter event stream closed", "session_id", sess.ID)
}

// apply performs one transition from the adapter event table. Events are
// trusted verbatim regardless of the current phase; duplicate events
// simply re-apply the same idempotent side effects.
func (m *Manager) apply(sess *Session, evt AdapterEvent) {
	switch evt.Kind {
	case AdapterQR:
		dataURL, err := m.encodeQR(evt.Code)
		if err != nil {
			m.logger.Error("encoding pairing code failed",
				"session_id", sess.ID,
				"error", err)
			return
		}
		sess.enterQRPending(dataURL)
		m.publish(&Event{Type: EventQR, SessionID: sess.ID, QR: dataURL})
		m.sync(sess.ID, record.StatusPending)
		m.logger.Info("pairing code issued", "session_id", sess.ID)

	case AdapterReady:
		sess.enterReady()
		m.publish(&Event{Type: EventReady, SessionID: sess.ID})
		m.sync(sess.ID, record.StatusConnected)
		m.logger.Info("session ready", "session_id", sess.ID)

	case AdapterAuthFailure:
		sess.enterAuthFailed()
		m.publish(&Event{Type: EventAuthFailure, SessionID: sess.ID})
		m.sync(sess.ID, record.StatusAuthFailed)
		m.logger.Warn("session auth failure",
			"session_id", sess.ID,
			"reason", evt.Reason)

	case AdapterDisconnected:
		sess.enterDisconnected()
		m.publish(&Event{Type: EventDisconnected, SessionID: sess.ID})
		m.sync(sess.ID, record.StatusDisconnected)
		m.logger.Info("session disconnected",
			"session_id", sess.ID,
			"reason", evt.Reason)
	}
}

func (m *Manager) publish(evt *Event) {
	if m.events != nil {
		m.events.Publish(evt.SessionID, evt)
	}
}

func (m *Manager) sync(sessionID, status string) {
	if m.syncer != nil {
		m.syncer.Push(sessionID, status)
	}
}

// QR returns the session's pending pairing code image.
// Returns ErrNotFound for unknown sessions and ErrNoQR when the session
// is not in the QRPending phase.
func (m *Manager) QR(id string) (string, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return "", ErrNotFound
	}
	qr := sess.QR()
	if qr == "" {
		return "", ErrNoQR
	}
	return qr, nil
}

// Status reports whether the session is ready to send.
func (m *Manager) Status(id string) (bool, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return false, ErrNotFound
	}
	return sess.Ready(), nil
}

// Send relays a message through the session's adapter. Gating order:
// unknown session, phase outside Ready, non-numeric recipient. The
// adapter is only touched once all gates pass; its errors surface as-is
// and are never retried here.
func (m *Manager) Send(ctx context.Context, id, recipient, body string) (string, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return "", ErrNotFound
	}

	if !sess.Ready() {
		return "", ErrNotReady
	}

	if !recipientPattern.MatchString(recipient) {
		return "", ErrInvalidRecipient
	}

	adapter := sess.adapterRef()
	if adapter == nil {
		return "", ErrNotReady
	}

	msgID, err := adapter.SendText(ctx, recipient, body)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return msgID, nil
}

// Logout tears down the session: adapter logout, auth artifact removal,
// registry removal, and a disconnected status sync. If the adapter's
// teardown fails the session is left registered so the caller can retry
// without orphaning the adapter.
func (m *Manager) Logout(ctx context.Context, id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}

	adapter := sess.adapterRef()
	if adapter == nil {
		// No adapter yet: block a still-initializing one from attaching,
		// unless it attached between the check above and here.
		adapter = sess.beginRemoval()
	}
	if adapter != nil {
		if err := adapter.Logout(ctx); err != nil {
			return fmt.Errorf("adapter logout: %w", err)
		}
		adapter.Close()
	}

	m.removeAuthArtifacts(id)
	m.registry.Remove(id)
	m.sync(id, record.StatusDisconnected)
	m.logger.Info("session logged out", "session_id", id)
	return nil
}

// removeAuthArtifacts erases the session's auth directory. Artifacts may
// be left behind on failure; removal proceeds regardless.
func (m *Manager) removeAuthArtifacts(id string) {
	if m.authDir == "" {
		return
	}
	dir := filepath.Join(m.authDir, id)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Error("removing auth artifacts failed",
			"session_id", id,
			"error", err)
	}
}

// List returns snapshots of all registered sessions.
func (m *Manager) List() []Info {
	return m.registry.List()
}

// Restore re-creates sessions the system of record reports as active.
// Rows recorded as disconnected are skipped. A listing failure is logged
// and the process continues with an empty registry.
func (m *Manager) Restore(ctx context.Context, lister SessionLister) {
	entries, err := lister.ListSessions(ctx)
	if err != nil {
		m.logger.Error("bootstrap restore failed, starting empty", "error", err)
		return
	}

	restored := 0
	for _, entry := range entries {
		if entry.Status == record.StatusDisconnected {
			continue
		}
		created, err := m.Create(ctx, entry.SessionID)
		if err != nil {
			m.logger.Error("restoring session failed",
				"session_id", entry.SessionID,
				"error", err)
			continue
		}
		if created {
			restored++
		}
	}

	m.logger.Info("bootstrap restore complete",
		"known", len(entries),
		"restored", restored)
}

// Close tears down all adapters without logging sessions out. Credentials
// stay on disk so the sessions can be restored on the next start.
func (m *Manager) Close() {
	for _, info := range m.registry.List() {
		sess, ok := m.registry.Get(info.ID)
		if !ok {
			continue
		}
		if adapter := sess.adapterRef(); adapter != nil {
			adapter.Close()
		}
	}
}
