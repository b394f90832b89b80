// Package registry owns the mutable, versioned set of tools the server
// advertises and dispatches to. The whole set is replaced atomically;
// readers always observe a complete snapshot, and every replacement
// bumps a monotonically increasing version so observers can decide
// whether to notify clients.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/itsuki-dev/mcp-sessions-go/mcp"
	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

// ErrUnknownTool indicates a call named a tool absent from the current
// registry snapshot.
var ErrUnknownTool = errors.New("unknown tool")

// ToolHandler is the function signature used to handle a tool
// invocation. Long-running handlers can emit interim progress through
// the ProgressReporter carried on ctx.
type ToolHandler func(ctx context.Context, sess *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// Definition pairs a tool descriptor with its handler.
type Definition struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// Registry holds the current tool set. Replace is the only bulk
// mutation; it swaps the whole set under the write lock so a concurrent
// List or Call sees either the old or the new set in full.
type Registry struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler
	version  uint64

	notifier ChangeNotifier
}

// New constructs a Registry with the given initial tool definitions.
// The initial set counts as version 1.
func New(defs ...Definition) *Registry {
	r := &Registry{}
	r.Replace(defs...)
	return r
}

// Replace atomically replaces the entire tool set and increments the
// registry version. Duplicate names resolve last-write-wins.
func (r *Registry) Replace(defs ...Definition) {
	r.mu.Lock()
	tools := make([]mcp.Tool, 0, len(defs))
	handlers := make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		tools = append(tools, d.Descriptor)
		if d.Handler != nil {
			handlers[d.Descriptor.Name] = d.Handler
		}
	}
	r.tools = tools
	r.handlers = handlers
	r.version++
	r.mu.Unlock()

	// Non-blocking fan-out; slow subscribers never stall a Replace.
	_ = r.notifier.Notify(context.Background())
}

// Version returns the current registry version. It increases by one on
// every Replace and never decreases.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Snapshot returns a copy of the current tool descriptors in
// registration order.
func (r *Registry) Snapshot() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Call dispatches a request to the named tool. The handler runs outside
// the registry lock, against the snapshot that resolved it.
func (r *Registry) Call(ctx context.Context, sess *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	r.mu.RLock()
	h := r.handlers[req.Name]
	r.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
	}
	return h(ctx, sess, req)
}

// Subscriber returns a channel that receives a signal after every
// registry change. See ChangeNotifier.
func (r *Registry) Subscriber() <-chan struct{} {
	return r.notifier.Subscriber()
}

// Close releases change-notification resources.
func (r *Registry) Close() {
	r.notifier.Close()
}

// TextResult builds a single-text-block tool result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds an error tool result with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}
