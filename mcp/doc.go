// Package mcp defines the wire-level types for the tool-invocation
// surface of the Model Context Protocol: method identifiers, tool
// descriptors and schemas, the initialize handshake, tool listing and
// invocation payloads, and the notifications the server pushes to
// clients (tools/list_changed and progress).
//
// The types here are deliberately protocol-shaped rather than
// Go-idiomatic: field names and optionality mirror the JSON the client
// sees. Higher-level packages (registry, dispatch) own the behavior.
package mcp
