// ABOUTME: Tests for the session lifecycle manager and its transition table.
// ABOUTME: Uses fake adapters, sinks, and syncers to drive events without a live protocol.

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wamux/wamux/internal/record"
)

// fakeAdapter is a controllable Adapter; tests emit lifecycle events
// directly onto its channel.
type fakeAdapter struct {
	events chan AdapterEvent

	mu        sync.Mutex
	sendErr   error
	logoutErr error
	sent      [][2]string
	closed    bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan AdapterEvent, 16)}
}

func (f *fakeAdapter) Events() <-chan AdapterEvent { return f.events }

func (f *fakeAdapter) SendText(_ context.Context, recipient, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, [2]string{recipient, body})
	return "msg-1", nil
}

func (f *fakeAdapter) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutErr
}

func (f *fakeAdapter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeAdapter) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeAdapter) setLogoutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutErr = err
}

func (f *fakeAdapter) sentMessages() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeAdapter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// adapterFactory counts constructions and hands out fake adapters by id.
type adapterFactory struct {
	mu       sync.Mutex
	count    atomic.Int32
	adapters map[string]*fakeAdapter
	err      error
}

func newAdapterFactory() *adapterFactory {
	return &adapterFactory{adapters: make(map[string]*fakeAdapter)}
}

func (f *adapterFactory) make(_ context.Context, sessionID string) (Adapter, error) {
	f.count.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := newFakeAdapter()
	f.adapters[sessionID] = a
	return a, nil
}

func (f *adapterFactory) adapter(sessionID string) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[sessionID]
}

type fakeSink struct {
	ch chan *Event
}

func (s *fakeSink) Publish(_ string, evt *Event) { s.ch <- evt }

type fakeSyncer struct {
	mu       sync.Mutex
	statuses []string
	ch       chan string
}

func (s *fakeSyncer) Push(_, status string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	s.ch <- status
}

func (s *fakeSyncer) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statuses))
	copy(out, s.statuses)
	return out
}

type fakeLister struct {
	entries []record.SessionEntry
	err     error
}

func (l fakeLister) ListSessions(context.Context) ([]record.SessionEntry, error) {
	return l.entries, l.err
}

type managerFixture struct {
	mgr     *Manager
	factory *adapterFactory
	sink    *fakeSink
	syncer  *fakeSyncer
	authDir string
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	factory := newAdapterFactory()
	sink := &fakeSink{ch: make(chan *Event, 32)}
	syncer := &fakeSyncer{ch: make(chan string, 32)}
	authDir := t.TempDir()

	mgr := NewManager(ManagerParams{
		Factory:  factory.make,
		Events:   sink,
		Syncer:   syncer,
		AuthDir:  authDir,
		EncodeQR: func(code string) (string, error) { return "img:" + code, nil },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &managerFixture{mgr: mgr, factory: factory, sink: sink, syncer: syncer, authDir: authDir}
}

// createSession creates a session and waits until its adapter is attached.
func (fx *managerFixture) createSession(t *testing.T, id string) *fakeAdapter {
	t.Helper()
	created, err := fx.mgr.Create(context.Background(), id)
	require.NoError(t, err)
	require.True(t, created)

	require.Eventually(t, func() bool {
		return fx.factory.adapter(id) != nil
	}, time.Second, 5*time.Millisecond, "adapter never constructed")
	return fx.factory.adapter(id)
}

func (fx *managerFixture) waitEvent(t *testing.T) *Event {
	t.Helper()
	select {
	case evt := <-fx.sink.ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
		return nil
	}
}

func (fx *managerFixture) waitSync(t *testing.T) string {
	t.Helper()
	select {
	case status := <-fx.syncer.ch:
		return status
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status sync")
		return ""
	}
}

// requireInvariant checks the pairing-code/phase invariant on a session.
func requireInvariant(t *testing.T, mgr *Manager, id string) {
	t.Helper()
	sess, ok := mgr.registry.Get(id)
	require.True(t, ok)
	if sess.Phase() == PhaseQRPending {
		assert.NotEmpty(t, sess.QR(), "QRPending must hold a pairing code")
	} else {
		assert.Empty(t, sess.QR(), "only QRPending may hold a pairing code")
	}
}

func TestManager_CreateIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.createSession(t, "tenant-a")

	created, err := fx.mgr.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.False(t, created)

	// The duplicate create must not construct a second adapter.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fx.factory.count.Load())
}

func TestManager_CreateRequiresID(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.mgr.Create(context.Background(), "")
	require.Error(t, err)
}

func TestManager_ConcurrentCreateRace(t *testing.T) {
	fx := newFixture(t)

	const workers = 25
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.mgr.Create(context.Background(), "contested")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return fx.factory.adapter("contested") != nil
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), fx.factory.count.Load(), "exactly one adapter initialization")
	assert.Len(t, fx.mgr.List(), 1)
}

func TestManager_FactoryFailureParksSession(t *testing.T) {
	fx := newFixture(t)
	fx.factory.err = errors.New("boom")

	created, err := fx.mgr.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.True(t, created)

	// Session stays registered in Uninitialized with no adapter.
	require.Eventually(t, func() bool {
		return fx.factory.count.Load() == 1
	}, time.Second, 5*time.Millisecond)

	ready, err := fx.mgr.Status("tenant-a")
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = fx.mgr.Send(context.Background(), "tenant-a", "123", "hi")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManager_TransitionTable(t *testing.T) {
	fx := newFixture(t)
	adapter := fx.createSession(t, "tenant-a")

	// pairing-code-issued -> QRPending
	adapter.events <- AdapterEvent{Kind: AdapterQR, Code: "pair-1"}
	evt := fx.waitEvent(t)
	assert.Equal(t, EventQR, evt.Type)
	assert.Equal(t, "img:pair-1", evt.QR)
	assert.Equal(t, record.StatusPending, fx.waitSync(t))
	requireInvariant(t, fx.mgr, "tenant-a")

	qr, err := fx.mgr.QR("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "img:pair-1", qr)

	// authenticated-and-ready -> Ready, code cleared
	adapter.events <- AdapterEvent{Kind: AdapterReady}
	assert.Equal(t, EventReady, fx.waitEvent(t).Type)
	assert.Equal(t, record.StatusConnected, fx.waitSync(t))
	requireInvariant(t, fx.mgr, "tenant-a")

	ready, err := fx.mgr.Status("tenant-a")
	require.NoError(t, err)
	assert.True(t, ready)

	_, err = fx.mgr.QR("tenant-a")
	assert.ErrorIs(t, err, ErrNoQR)

	// re-pairing: QRPending is re-enterable from Ready
	adapter.events <- AdapterEvent{Kind: AdapterQR, Code: "pair-2"}
	assert.Equal(t, EventQR, fx.waitEvent(t).Type)
	assert.Equal(t, record.StatusPending, fx.waitSync(t))
	requireInvariant(t, fx.mgr, "tenant-a")

	// connection-lost -> Disconnected, code cleared
	adapter.events <- AdapterEvent{Kind: AdapterDisconnected}
	assert.Equal(t, EventDisconnected, fx.waitEvent(t).Type)
	assert.Equal(t, record.StatusDisconnected, fx.waitSync(t))
	requireInvariant(t, fx.mgr, "tenant-a")

	// auth-failure -> AuthFailed; session stays registered throughout
	adapter.events <- AdapterEvent{Kind: AdapterAuthFailure, Reason: "bad creds"}
	assert.Equal(t, EventAuthFailure, fx.waitEvent(t).Type)
	assert.Equal(t, record.StatusAuthFailed, fx.waitSync(t))
	requireInvariant(t, fx.mgr, "tenant-a")

	_, err = fx.mgr.Status("tenant-a")
	assert.NoError(t, err, "AuthFailed is not terminal; the session remains registered")
}

func TestManager_DuplicateEventsAreIdempotent(t *testing.T) {
	fx := newFixture(t)
	adapter := fx.createSession(t, "tenant-a")

	adapter.events <- AdapterEvent{Kind: AdapterReady}
	adapter.events <- AdapterEvent{Kind: AdapterReady}

	assert.Equal(t, EventReady, fx.waitEvent(t).Type)
	assert.Equal(t, EventReady, fx.waitEvent(t).Type)
	assert.Equal(t, []string{record.StatusConnected, record.StatusConnected},
		[]string{fx.waitSync(t), fx.waitSync(t)})

	ready, err := fx.mgr.Status("tenant-a")
	require.NoError(t, err)
	assert.True(t, ready)
	requireInvariant(t, fx.mgr, "tenant-a")
}

func TestManager_SendGating(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.mgr.Send(context.Background(), "unknown", "123", "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	adapter := fx.createSession(t, "tenant-a")

	// Uninitialized
	_, err = fx.mgr.Send(context.Background(), "tenant-a", "123", "hi")
	assert.ErrorIs(t, err, ErrNotReady)

	// QRPending
	adapter.events <- AdapterEvent{Kind: AdapterQR, Code: "pair-1"}
	fx.waitEvent(t)
	_, err = fx.mgr.Send(context.Background(), "tenant-a", "123", "hi")
	assert.ErrorIs(t, err, ErrNotReady)

	// Ready: delegates to the adapter
	adapter.events <- AdapterEvent{Kind: AdapterReady}
	fx.waitEvent(t)
	msgID, err := fx.mgr.Send(context.Background(), "tenant-a", "4915551234", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)
	assert.Equal(t, [][2]string{{"4915551234", "hello"}}, adapter.sentMessages())

	// Disconnected
	adapter.events <- AdapterEvent{Kind: AdapterDisconnected}
	fx.waitEvent(t)
	_, err = fx.mgr.Send(context.Background(), "tenant-a", "123", "hi")
	assert.ErrorIs(t, err, ErrNotReady)

	// AuthFailed
	adapter.events <- AdapterEvent{Kind: AdapterAuthFailure}
	fx.waitEvent(t)
	_, err = fx.mgr.Send(context.Background(), "tenant-a", "123", "hi")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManager_SendRejectsInvalidRecipients(t *testing.T) {
	fx := newFixture(t)
	adapter := fx.createSession(t, "tenant-a")
	adapter.events <- AdapterEvent{Kind: AdapterReady}
	fx.waitEvent(t)

	for _, phone := range []string{"+1234", "abc", "", "12 34", "12-34"} {
		_, err := fx.mgr.Send(context.Background(), "tenant-a", phone, "hi")
		assert.ErrorIs(t, err, ErrInvalidRecipient, "phone %q", phone)
	}

	assert.Empty(t, adapter.sentMessages(), "adapter must not be touched on invalid input")
}

func TestManager_SendSurfacesAdapterFailure(t *testing.T) {
	fx := newFixture(t)
	adapter := fx.createSession(t, "tenant-a")
	adapter.events <- AdapterEvent{Kind: AdapterReady}
	fx.waitEvent(t)

	adapter.setSendErr(errors.New("protocol exploded"))
	_, err := fx.mgr.Send(context.Background(), "tenant-a", "123", "hi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotReady)

	// Send failures never remove the session.
	_, err = fx.mgr.Status("tenant-a")
	assert.NoError(t, err)
}

func TestManager_LogoutRemovesSessionAndArtifacts(t *testing.T) {
	fx := newFixture(t)
	adapter := fx.createSession(t, "tenant-a")

	artifactDir := filepath.Join(fx.authDir, "tenant-a")
	require.NoError(t, os.MkdirAll(artifactDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "store.db"), []byte("creds"), 0o600))

	require.NoError(t, fx.mgr.Logout(context.Background(), "tenant-a"))

	_, err := fx.mgr.Status("tenant-a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(artifactDir)
	assert.True(t, os.IsNotExist(err), "auth artifacts must be erased")

	assert.True(t, adapter.isClosed())
	assert.Equal(t, record.StatusDisconnected, fx.waitSync(t))
}

func TestManager_LogoutFailureRetainsSession(t *testing.T) {
	fx := newFixture(t)
	adapter := fx.createSession(t, "tenant-a")
	adapter.setLogoutErr(errors.New("remote refused"))

	err := fx.mgr.Logout(context.Background(), "tenant-a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	// Still registered; the caller may retry.
	_, statusErr := fx.mgr.Status("tenant-a")
	require.NoError(t, statusErr)

	adapter.setLogoutErr(nil)
	require.NoError(t, fx.mgr.Logout(context.Background(), "tenant-a"))
	_, statusErr = fx.mgr.Status("tenant-a")
	assert.ErrorIs(t, statusErr, ErrNotFound)
}

func TestManager_LogoutDuringInitializationDiscardsAdapter(t *testing.T) {
	authDir := t.TempDir()
	adapter := newFakeAdapter()
	release := make(chan struct{})

	// Gate the factory so logout lands while the adapter is still being
	// constructed. Construction writes credentials, the way a real
	// adapter creates its device store.
	factory := func(_ context.Context, id string) (Adapter, error) {
		<-release
		dir := filepath.Join(authDir, id)
		os.MkdirAll(dir, 0o700)
		os.WriteFile(filepath.Join(dir, "store.db"), []byte("creds"), 0o600)
		return adapter, nil
	}

	sink := &fakeSink{ch: make(chan *Event, 32)}
	syncer := &fakeSyncer{ch: make(chan string, 32)}
	mgr := NewManager(ManagerParams{
		Factory:  factory,
		Events:   sink,
		Syncer:   syncer,
		AuthDir:  authDir,
		EncodeQR: func(code string) (string, error) { return "img:" + code, nil },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	created, err := mgr.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, mgr.Logout(context.Background(), "tenant-a"))
	_, err = mgr.Status("tenant-a")
	assert.ErrorIs(t, err, ErrNotFound)

	close(release)

	// The orphaned adapter must be torn down, not leaked.
	require.Eventually(t, adapter.isClosed, time.Second, 5*time.Millisecond,
		"adapter built after logout must be closed")

	// Credentials written during construction must be erased too, keeping
	// registry membership and durable artifacts in lockstep.
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Join(authDir, "tenant-a"))
		return os.IsNotExist(statErr)
	}, time.Second, 5*time.Millisecond, "recreated auth artifacts must be erased")

	assert.Empty(t, sink.ch, "no events may be broadcast for a removed session")
}

func TestManager_LogoutUnknownSession(t *testing.T) {
	fx := newFixture(t)
	err := fx.mgr.Logout(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_QRErrors(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.mgr.QR("unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	fx.createSession(t, "tenant-a")
	_, err = fx.mgr.QR("tenant-a")
	assert.ErrorIs(t, err, ErrNoQR)
}

func TestManager_RestoreSkipsDisconnected(t *testing.T) {
	fx := newFixture(t)

	fx.mgr.Restore(context.Background(), fakeLister{entries: []record.SessionEntry{
		{SessionID: "x", Status: record.StatusConnected},
		{SessionID: "y", Status: record.StatusDisconnected},
		{SessionID: "z", Status: record.StatusPending},
	}})

	require.Eventually(t, func() bool {
		return fx.factory.adapter("x") != nil && fx.factory.adapter("z") != nil
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, fx.factory.adapter("y"), "disconnected sessions are not restored")
	assert.Len(t, fx.mgr.List(), 2)
}

func TestManager_RestoreFailureStartsEmpty(t *testing.T) {
	fx := newFixture(t)

	fx.mgr.Restore(context.Background(), fakeLister{err: errors.New("record unreachable")})

	assert.Empty(t, fx.mgr.List())
	assert.Equal(t, int32(0), fx.factory.count.Load())
}
