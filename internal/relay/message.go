package relay

import "encoding/json"

// Message is one opaque signaling payload addressed to a single participant.
//
// Kind is a caller-defined token (typically "offer", "answer" or
// "candidate") and Payload is passed through byte-for-byte; the relay
// inspects neither.
type Message struct {
	From    string          `json:"from"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
