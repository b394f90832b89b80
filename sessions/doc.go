// Package sessions owns the per-client session state machine and the
// concurrency-safe table that maps session ids to live sessions.
//
// A Session is created in StateInitializing by Table.Create, promoted to
// StateActive once the handshake result has been computed, and moved to
// StateClosed exactly once: by an explicit terminate request, by the
// transport closing underneath it, or by process shutdown. The first
// transition into StateClosed runs the registered close hook (which
// removes the session from the table); later Close calls are no-ops.
//
// Delivery to clients flows through a MessageHost, the transport
// collaborator: an ordered, resumable per-session message stream. The
// memoryhost and redishost subpackages provide single-node and
// horizontally scalable implementations.
package sessions
