// Package bridge implements the correlation channel between the orchestrator
// context and the privileged context: a duplex, namespaced envelope protocol
// over an untrusted shared medium that turns fire-and-forget messages into
// awaitable calls and delivers unsolicited progress events.
package bridge

import "encoding/json"

// Namespace tags every envelope this bridge produces. The medium is shared;
// envelopes carrying any other namespace are ignored, not errors.
const Namespace = "wa-export"

// Direction discriminates the envelope union.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionEvent    Direction = "event"
)

// Envelope is the wire message. Requests carry ID+Action, responses carry
// ID+OK (+Error when OK is false), events carry Type and no ID.
type Envelope struct {
	Namespace string          `json:"ns"`
	Direction Direction       `json:"direction"`
	ID        string          `json:"id,omitempty"`
	Action    string          `json:"action,omitempty"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Error     string          `json:"error,omitempty"`
}
