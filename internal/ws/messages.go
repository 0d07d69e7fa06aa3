package ws

import (
	"encoding/json"

	"github.com/cmstate/cmstate/internal/reconcile"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgRunStarted  MessageType = "run_started"
	MsgRunProgress MessageType = "run_progress"
	MsgRunFinished MessageType = "run_finished"
	MsgStatus      MessageType = "status"
	MsgError       MessageType = "error"
	MsgSync        MessageType = "sync"
)

// Message is the envelope for every WebSocket frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes a message with the given type and payload.
func NewMessage(typ MessageType, payload any) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Message{Type: typ, Payload: p})
}

// RunEvent announces the start or outcome of a reconciliation run.
type RunEvent struct {
	RunID   string            `json:"run_id"`
	Kind    string            `json:"kind"`
	Desired string            `json:"desired,omitempty"`
	Result  *reconcile.Result `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// RunProgress is one reconciliation step, tagged with its run.
type RunProgress struct {
	RunID   string `json:"run_id"`
	Step    string `json:"step"`
	Service string `json:"service"`
	Message string `json:"message"`
}
