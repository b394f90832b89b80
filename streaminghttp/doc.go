// Package streaminghttp serves a tool-invocation session server over a
// single HTTP endpoint.
//
// The endpoint multiplexes three verbs:
//
//   - POST carries JSON-RPC messages from the client: the initialize
//     handshake (no session header) and, with an Mcp-Session-Id header,
//     requests and notifications for an established session. Requests
//     answer over a per-request text/event-stream response so a
//     long-running tool call can emit interim progress notifications
//     ahead of its final response.
//   - GET opens the session's standalone SSE stream. Server-initiated
//     notifications, most notably tools/list_changed broadcasts, arrive
//     here. The stream resumes from the Last-Event-ID header.
//   - DELETE terminates the session. Termination is idempotent.
//
// All verbs require bearer authentication; failures answer with RFC
// 6750 WWW-Authenticate challenges.
package streaminghttp
