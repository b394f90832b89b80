package sessions

import (
	"sync"

	"github.com/google/uuid"
)

// Table maps session ids to live sessions. Creates and removes are
// mutually exclusive; lookups proceed concurrently and never observe a
// partially-constructed entry because the session is fully built before
// insertion.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Create allocates a fresh id, inserts a new initializing session bound
// to host, and returns it. Registration is synchronous with id
// assignment: by the time Create returns, the id resolves via Lookup.
func (t *Table) Create(host MessageHost) (*Session, error) {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}
	sess := newSession(id, host)
	t.sessions[id] = sess
	return sess, nil
}

// Lookup resolves id to a live session, or ErrSessionNotFound.
func (t *Table) Lookup(id string) (*Session, error) {
	t.mu.RLock()
	sess, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove deletes id from the table. Removing an unknown id is a no-op,
// which keeps close paths idempotent.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// ForEach applies fn to a point-in-time snapshot of the table. Sessions
// removed after the snapshot may still be visited; fn must tolerate
// closed sessions. No session is visited twice.
func (t *Table) ForEach(fn func(*Session)) {
	t.mu.RLock()
	snapshot := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		snapshot = append(snapshot, s)
	}
	t.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Len reports the number of live sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
