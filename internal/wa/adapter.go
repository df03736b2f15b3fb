// ABOUTME: WhatsApp connection adapter backed by whatsmeow.
// ABOUTME: Owns one device store per session and maps protocol events to lifecycle events.

package wa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/wamux/wamux/internal/session"
)

// eventBufferSize is the adapter event channel buffer. Lifecycle events
// are sparse; if the pump ever falls this far behind, events are dropped
// with a log line rather than blocking the protocol client.
const eventBufferSize = 16

// Client adapts a whatsmeow connection to the session.Adapter contract.
// Device credentials live in a per-session SQLite store under the auth
// directory, so erasing that directory forgets the device.
type Client struct {
	sessionID string
	wm        *whatsmeow.Client
	container *sqlstore.Container
	logger    *slog.Logger

	mu     sync.Mutex
	events chan session.AdapterEvent
	closed bool
}

// NewFactory returns a session.Factory that creates whatsmeow-backed
// adapters storing credentials under authDir/<sessionID>/.
func NewFactory(authDir string, logger *slog.Logger) session.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, sessionID string) (session.Adapter, error) {
		return New(ctx, sessionID, authDir, logger)
	}
}

// New opens the session's device store, connects to WhatsApp, and starts
// the pairing flow when the device is not yet registered.
func New(ctx context.Context, sessionID, authDir string, logger *slog.Logger) (*Client, error) {
	dir := filepath.Join(authDir, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, "store.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("loading device: %w", err)
	}

	c := &Client{
		sessionID: sessionID,
		wm:        whatsmeow.NewClient(device, waLog.Noop),
		container: container,
		logger:    logger.With("component", "wa-adapter", "session_id", sessionID),
		events:    make(chan session.AdapterEvent, eventBufferSize),
	}
	c.wm.AddEventHandler(c.handleEvent)

	// An unregistered device needs the QR pairing flow; the channel must
	// be requested before Connect.
	if c.wm.Store.ID == nil {
		qrChan, err := c.wm.GetQRChannel(ctx)
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("opening qr channel: %w", err)
		}
		go c.forwardQR(qrChan)
	}

	if err := c.wm.Connect(); err != nil {
		container.Close()
		return nil, fmt.Errorf("connecting: %w", err)
	}

	return c, nil
}

// Events returns the adapter's lifecycle event stream.
func (c *Client) Events() <-chan session.AdapterEvent {
	return c.events
}

// SendText delivers a plain text message to the given phone number.
func (c *Client) SendText(ctx context.Context, recipient, body string) (string, error) {
	jid := types.NewJID(recipient, types.DefaultUserServer)
	resp, err := c.wm.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp send to %s: %w", jid, err)
	}
	return resp.ID, nil
}

// Logout invalidates the device registration with WhatsApp.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.wm.Logout(ctx); err != nil {
		return fmt.Errorf("whatsapp logout: %w", err)
	}
	return nil
}

// Close disconnects and closes the device store. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.wm.RemoveEventHandlers()
	c.wm.Disconnect()
	if err := c.container.Close(); err != nil {
		c.logger.Error("closing device store failed", "error", err)
	}
	close(c.events)
}

func (c *Client) emit(evt session.AdapterEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("event buffer full, dropping lifecycle event", "kind", evt.Kind)
	}
}

// handleEvent maps whatsmeow events onto the adapter lifecycle stream.
func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		c.emit(session.AdapterEvent{Kind: session.AdapterReady})
	case *events.Disconnected:
		c.emit(session.AdapterEvent{Kind: session.AdapterDisconnected})
	case *events.StreamReplaced:
		c.emit(session.AdapterEvent{
			Kind:   session.AdapterDisconnected,
			Reason: "stream replaced by another client",
		})
	case *events.LoggedOut:
		c.emit(session.AdapterEvent{
			Kind:   session.AdapterAuthFailure,
			Reason: fmt.Sprintf("logged out by server (%v)", evt.Reason),
		})
	}
}

// forwardQR relays pairing codes from the QR channel. Pairing success is
// not emitted here; the Connected event covers it.
func (c *Client) forwardQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(session.AdapterEvent{Kind: session.AdapterQR, Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			// Connected follows shortly.
		default:
			// Timeout, outdated client, or scan error ends this pairing attempt.
			c.emit(session.AdapterEvent{
				Kind:   session.AdapterAuthFailure,
				Reason: "pairing failed: " + item.Event,
			})
		}
	}
}
