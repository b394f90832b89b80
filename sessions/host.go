package sessions

import "context"

// MessageHandlerFunc handles ordered messages for a session stream. If
// the handler returns an error, the subscription terminates with that
// error.
type MessageHandlerFunc func(ctx context.Context, msgID string, msg []byte) error

// MessageHost is the minimal transport contract the sessions layer
// needs: ordered per-session messaging with resume via lastEventID.
// Implementations must be safe for concurrent use and must make Publish
// after Cleanup fail detectably rather than drop silently.
type MessageHost interface {
	// Publish appends data to the session's stream and returns the
	// assigned event id.
	Publish(ctx context.Context, sessionID string, data []byte) (eventID string, err error)

	// Subscribe consumes the session's stream, invoking handler for each
	// message in order, starting after lastEventID (or with the next
	// published message when lastEventID is empty). It blocks until ctx
	// is canceled, the session is cleaned up, or the handler errors.
	Subscribe(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunc) error

	// Cleanup releases all resources associated with the session,
	// terminating any active subscriptions.
	Cleanup(ctx context.Context, sessionID string) error
}

// CursorValidator is implemented by hosts that can check a resume
// cursor up front, so the transport can reject a bad Last-Event-ID
// before committing to a streaming response.
type CursorValidator interface {
	ValidateCursor(ctx context.Context, sessionID string, lastEventID string) error
}
