// ABOUTME: Websocket realtime channel delivering lifecycle events per session topic.
// ABOUTME: Clients join session-scoped topics; joining an unknown id creates it.

package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wamux/wamux/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP API carries no authentication; the realtime channel
	// matches it and accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is a client-to-server frame on the realtime channel.
type wsCommand struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// handleWS handles GET /ws. Each connection may join any number of
// session topics; every lifecycle event published for a joined session is
// forwarded as a JSON frame. Subscriptions live as long as the socket.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()

	g.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	// Writes come from one goroutine per joined topic; serialize them.
	var writeMu sync.Mutex
	writeEvent := func(evt *session.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(evt)
	}

	joined := make(map[string]bool)

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			g.logger.Debug("websocket client disconnected", "remote", r.RemoteAddr)
			return
		}

		switch cmd.Action {
		case "join", "init":
			if cmd.SessionID == "" || joined[cmd.SessionID] {
				continue
			}
			joined[cmd.SessionID] = true
			g.joinSession(ctx, cmd.SessionID, writeEvent, cancel)
		default:
			g.logger.Debug("ignoring unknown websocket action", "action", cmd.Action)
		}
	}
}

// joinSession subscribes the connection to a session topic, creating the
// session first if it does not exist yet.
func (g *Gateway) joinSession(ctx context.Context, sessionID string, writeEvent func(*session.Event) error, cancel context.CancelFunc) {
	if _, err := g.controller.Status(sessionID); errors.Is(err, session.ErrNotFound) {
		if _, err := g.controller.Create(ctx, sessionID); err != nil {
			g.logger.Error("creating session for websocket join failed",
				"session_id", sessionID,
				"error", err)
			return
		}
	}

	ch, _ := g.broadcaster.Subscribe(ctx, sessionID)
	g.logger.Debug("websocket client joined session", "session_id", sessionID)

	go func() {
		for evt := range ch {
			if err := writeEvent(evt); err != nil {
				cancel()
				return
			}
		}
	}()
}
