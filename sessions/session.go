package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle phase of a session.
type State string

const (
	// StateInitializing covers the window between Table.Create and the
	// completion of the initialize handshake.
	StateInitializing State = "initializing"
	// StateActive means the session accepts requests and deliveries.
	StateActive State = "active"
	// StateClosed is terminal. A closed session rejects delivery with
	// ErrDeliveryFailed and never reappears in the table.
	StateClosed State = "closed"
)

var (
	// ErrSessionNotFound indicates the session id does not resolve to a
	// live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateSession indicates an id collision on create. With
	// random UUIDs this is effectively unreachable; callers treat it as
	// fatal.
	ErrDuplicateSession = errors.New("duplicate session id")
	// ErrDeliveryFailed indicates a send to a closed or broken session.
	ErrDeliveryFailed = errors.New("session delivery failed")
)

// Session is one client's logical connection: an opaque id bound to one
// exclusively-owned MessageHost stream. All methods are safe for
// concurrent use.
type Session struct {
	id   string
	host MessageHost

	mu      sync.Mutex
	state   State
	onClose []func()

	// writeMu serializes all outbound delivery to this client. A
	// multi-step tool call holds no extra lock: its interim messages
	// and terminal response simply queue here in emission order.
	writeMu sync.Mutex
}

func newSession(id string, host MessageHost) *Session {
	return &Session{id: id, host: host, state: StateInitializing}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate promotes an initializing session. Activating a closed
// session is a no-op.
func (s *Session) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInitializing {
		s.state = StateActive
	}
}

// OnClose registers fn to run at the first transition into StateClosed.
// If the session is already closed, fn runs synchronously now. Hooks
// run exactly once regardless of how many close paths race.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close moves the session to StateClosed and runs the close hooks.
// It is idempotent: duplicate close signals (explicit terminate racing
// a transport error) neither double-run hooks nor error.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Write delivers one message to this client's stream. Writes are
// serialized per session, so callers observe emission order. A closed
// session fails with ErrDeliveryFailed.
func (s *Session) Write(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return fmt.Errorf("%w: session %s is closed", ErrDeliveryFailed, s.id)
	}
	if _, err := s.host.Publish(ctx, s.id, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// ValidateCursor checks a resume cursor against the host, when the host
// supports it. An empty cursor is always valid.
func (s *Session) ValidateCursor(ctx context.Context, lastEventID string) error {
	if lastEventID == "" {
		return nil
	}
	if v, ok := s.host.(CursorValidator); ok {
		return v.ValidateCursor(ctx, s.id, lastEventID)
	}
	return nil
}

// Consume streams this session's messages to handler, resuming after
// lastEventID. It blocks for the lifetime of the stream.
func (s *Session) Consume(ctx context.Context, lastEventID string, handler MessageHandlerFunc) error {
	if s.State() == StateClosed {
		return ErrSessionNotFound
	}
	return s.host.Subscribe(ctx, s.id, lastEventID, handler)
}

// CleanupHost releases the session's transport resources. Called from
// the close hook after table removal.
func (s *Session) CleanupHost(ctx context.Context) error {
	return s.host.Cleanup(ctx, s.id)
}
