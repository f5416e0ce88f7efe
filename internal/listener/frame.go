package listener

import (
	"encoding/json"
)

const (
	frameAck   = "ack"
	frameReply = "reply"
)

// clientFrame is one message from the browser. Id is echoed back on the
// reply untouched.
type clientFrame struct {
	Id   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// serverFrame is one message to the browser: a reply carrying the request's
// id, or a push without one.
type serverFrame struct {
	Id   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Data any             `json:"data,omitempty"`
}
