// Package memoryhost provides an in-memory sessions.MessageHost backed
// by per-session append logs. It is suitable for single-node
// deployments and tests; state is process-local.
package memoryhost

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

// Host implements sessions.MessageHost with ordered in-process delivery
// and replay from a lastEventID cursor.
type Host struct {
	mu      sync.Mutex
	streams map[string]*stream
	counter atomic.Int64
}

type message struct {
	id   string
	data []byte
}

type stream struct {
	mu       sync.Mutex
	messages []message
	closed   bool
	// updated is closed and replaced whenever the stream grows or is
	// cleaned up; subscribers park on it between messages.
	updated chan struct{}
}

// New returns an empty in-memory host.
func New() *Host {
	return &Host{streams: make(map[string]*stream)}
}

func (h *Host) ensure(sessionID string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[sessionID]
	if !ok {
		st = &stream{updated: make(chan struct{})}
		h.streams[sessionID] = st
	}
	return st
}

// Publish implements sessions.MessageHost. Publishing to a cleaned-up
// session fails rather than silently recreating the stream.
func (h *Host) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	st := h.ensure(sessionID)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return "", fmt.Errorf("session %q has been cleaned up", sessionID)
	}
	id := fmt.Sprintf("%d", h.counter.Add(1))
	st.messages = append(st.messages, message{id: id, data: append([]byte(nil), data...)})
	close(st.updated)
	st.updated = make(chan struct{})
	return id, nil
}

// Subscribe implements sessions.MessageHost. Messages are delivered in
// publish order; replay starts after lastEventID. A cleaned-up stream
// ends the subscription without error (clean termination).
func (h *Host) Subscribe(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	st := h.ensure(sessionID)

	next, err := st.resolveCursor(lastEventID)
	if err != nil {
		return err
	}

	for {
		st.mu.Lock()
		if next < len(st.messages) {
			msg := st.messages[next]
			st.mu.Unlock()
			if err := handler(ctx, msg.id, msg.data); err != nil {
				return err
			}
			next++
			continue
		}
		if st.closed {
			st.mu.Unlock()
			return nil
		}
		updated := st.updated
		st.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-updated:
		}
	}
}

func (st *stream) resolveCursor(lastEventID string) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if lastEventID == "" {
		return len(st.messages), nil
	}
	for i := range st.messages {
		if st.messages[i].id == lastEventID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("last event id %s not found", lastEventID)
}

// ValidateCursor implements sessions.CursorValidator. A cursor is valid
// when it names a message still in the session's log.
func (h *Host) ValidateCursor(ctx context.Context, sessionID string, lastEventID string) error {
	st := h.ensure(sessionID)
	_, err := st.resolveCursor(lastEventID)
	return err
}

// Cleanup implements sessions.MessageHost. The stream is tombstoned so
// later publishes fail detectably; active subscribers drain whatever
// they have not yet seen and then end cleanly.
func (h *Host) Cleanup(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	st, ok := h.streams[sessionID]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	if !st.closed {
		st.closed = true
		close(st.updated)
		st.updated = make(chan struct{})
	}
	st.mu.Unlock()
	return nil
}

var (
	_ sessions.MessageHost     = (*Host)(nil)
	_ sessions.CursorValidator = (*Host)(nil)
)
