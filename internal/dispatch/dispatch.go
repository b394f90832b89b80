// Package dispatch routes decoded JSON-RPC messages to session and
// registry operations. It is transport-agnostic: the streaming HTTP
// handler feeds it parsed requests and delivers whatever it returns.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/itsuki-dev/mcp-sessions-go/internal/jsonrpc"
	"github.com/itsuki-dev/mcp-sessions-go/internal/logctx"
	"github.com/itsuki-dev/mcp-sessions-go/mcp"
	"github.com/itsuki-dev/mcp-sessions-go/registry"
	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

// Dispatcher owns the session table and the tool registry, and maps
// protocol operations onto them.
type Dispatcher struct {
	table        *sessions.Table
	host         sessions.MessageHost
	reg          *registry.Registry
	serverInfo   mcp.ImplementationInfo
	instructions string
	log          *slog.Logger
}

// New builds a Dispatcher.
func New(table *sessions.Table, host sessions.MessageHost, reg *registry.Registry, serverInfo mcp.ImplementationInfo, instructions string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		table:        table,
		host:         host,
		reg:          reg,
		serverInfo:   serverInfo,
		instructions: instructions,
		log:          log,
	}
}

// Table exposes the session table for broadcast and stream consumers.
func (d *Dispatcher) Table() *sessions.Table { return d.table }

// InitializeSession creates a new session in response to an initialize
// request and returns the handshake result. The session stays in the
// initializing state until the client's initialized notification
// arrives.
func (d *Dispatcher) InitializeSession(ctx context.Context, req *mcp.InitializeRequest) (*sessions.Session, *mcp.InitializeResult, error) {
	sess, err := d.table.Create(d.host)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	// Close must leave no trace: drop the table entry first so the id
	// stops resolving, then release the transport stream.
	sess.OnClose(func() {
		d.table.Remove(sess.ID())
		if err := sess.CleanupHost(context.WithoutCancel(ctx)); err != nil {
			d.log.Warn("session host cleanup failed", slog.String("session_id", sess.ID()), slog.String("err", err.Error()))
		}
	})

	version := req.ProtocolVersion
	if version == "" {
		version = mcp.LatestProtocolVersion
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{ListChanged: true},
		},
		ServerInfo:   d.serverInfo,
		Instructions: d.instructions,
	}
	return sess, res, nil
}

// LoadSession resolves a session id from a request header.
func (d *Dispatcher) LoadSession(ctx context.Context, sessionID string) (*sessions.Session, error) {
	return d.table.Lookup(sessionID)
}

// DeleteSession terminates a session. Unknown ids are treated as
// already deleted so explicit termination stays idempotent.
func (d *Dispatcher) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := d.table.Lookup(sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	sess.Close()
	return nil
}

// HandleRequest routes one JSON-RPC request for an established session
// and returns the response to deliver. Routing failures surface as
// JSON-RPC error responses, not Go errors; a non-nil error means the
// dispatcher itself broke.
func (d *Dispatcher) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: sess.State()})

	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, struct{}{})
	case mcp.ToolsListMethod:
		return d.handleToolsList(ctx, sess, req)
	case mcp.ToolsCallMethod:
		return d.handleToolCall(ctx, sess, req)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not supported: %s", req.Method), nil), nil
	}
}

// HandleNotification processes a client notification. Unknown
// notifications are ignored per JSON-RPC semantics.
func (d *Dispatcher) HandleNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) error {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		sess.Activate()
		d.log.DebugContext(ctx, "session activated", slog.String("session_id", sess.ID()))
	}
	return nil
}

func (d *Dispatcher) handleToolsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tools := d.reg.Snapshot()
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{Tools: tools})
}

// callToolParams is the wire shape of tools/call params, including the
// request metadata that carries an optional progress token.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      *struct {
		ProgressToken mcp.ProgressToken `json:"progressToken,omitempty"`
	} `json:"_meta,omitempty"`
}

func (d *Dispatcher) handleToolCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil), nil
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tool name is required", nil), nil
	}
	if len(params.Arguments) == 0 || string(params.Arguments) == "null" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tool arguments are required", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	res, err := d.reg.Call(ctx, sess, &mcp.CallToolRequestReceived{Name: params.Name, Arguments: params.Arguments})
	if err != nil {
		if errors.Is(err, registry.ErrUnknownTool) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
		}
		d.log.ErrorContext(ctx, "tool call failed", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "tool execution failed", nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

// ProgressToken extracts the progress token from raw tools/call params,
// if any. The transport uses it to decide whether to arm a progress
// reporter before dispatching.
func ProgressToken(params json.RawMessage) (mcp.ProgressToken, bool) {
	var p callToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, false
	}
	if p.Meta == nil || p.Meta.ProgressToken == nil {
		return nil, false
	}
	return p.Meta.ProgressToken, true
}

// NewProgressReporter builds a reporter that emits notifications/progress
// messages through write. The transport supplies a write func bound to
// the request's own response stream so interim updates precede the
// final response.
func NewProgressReporter(token mcp.ProgressToken, write func(ctx context.Context, msg jsonrpc.Message) error) registry.ProgressReporter {
	return &progressReporter{token: token, write: write}
}

type progressReporter struct {
	token mcp.ProgressToken
	write func(ctx context.Context, msg jsonrpc.Message) error
}

func (p *progressReporter) Report(ctx context.Context, progress, total float64, message string) error {
	note, err := jsonrpc.NewRequest(nil, string(mcp.ProgressNotificationMethod), &mcp.ProgressNotificationParams{
		ProgressToken: p.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return p.write(ctx, b)
}
