// Package api defines the wire-format types of the daemon HTTP API and a
// client for it.
//
// DTOs use camelCase JSON tags for the web application calling the daemon.
// Timestamps use RFC3339 with milliseconds. Stored metadata is passed through
// as json.RawMessage to avoid double encoding.
//
// The CLI talks to a running daemon through Client; IsUnavailable tells the
// caller when to fall back to reading the store directly.
package api
