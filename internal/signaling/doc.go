// Package signaling is the HTTP boundary of the relay: join/leave/send
// endpoints plus the per-participant delivery stream (SSE, with a
// WebSocket alternative).
//
// Payload contents are opaque to this package; offer/answer/candidate
// semantics live entirely in the browser clients.
package signaling
