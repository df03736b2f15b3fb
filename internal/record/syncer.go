// ABOUTME: Detached status-sync worker so record pushes never block the core.
// ABOUTME: Failures are logged and discarded; a full queue drops rather than waits.

package record

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// syncQueueSize bounds how many pending status updates may queue before
// new ones are dropped. Status sync is best-effort by contract.
const syncQueueSize = 64

type update struct {
	sessionID string
	status    string
}

// Syncer pushes status transitions to the system of record from a single
// background worker. Push never blocks and never surfaces errors to the
// caller; the sync layer must not introduce backpressure into the event
// pump that drives it.
type Syncer struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger

	queue chan update
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewSyncer creates a Syncer and starts its worker. Pass nil logger for
// the default.
func NewSyncer(client *Client, timeout time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "record-syncer"),
		queue:   make(chan update, syncQueueSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Push enqueues a status update. Non-blocking: the update is dropped with
// a log line if the queue is full or the syncer is closed.
func (s *Syncer) Push(sessionID, status string) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- update{sessionID: sessionID, status: status}:
	default:
		s.logger.Warn("sync queue full, dropping status update",
			"session_id", sessionID,
			"status", status)
	}
}

// Close stops the worker. Queued updates that have not started are discarded.
func (s *Syncer) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Syncer) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case u := <-s.queue:
			s.push(u)
		}
	}
}

func (s *Syncer) push(u update) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.client.UpdateStatus(ctx, u.sessionID, u.status); err != nil {
		s.logger.Error("status sync failed",
			"session_id", u.sessionID,
			"status", u.status,
			"error", err)
		return
	}

	s.logger.Debug("status synced",
		"session_id", u.sessionID,
		"status", u.status)
}
