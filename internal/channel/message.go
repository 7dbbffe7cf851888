package channel

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/latticehq/lattice/backend/internal/shared/types"
	"github.com/latticehq/lattice/backend/internal/shared/utils"
)

// Message types crossing the sandbox boundary. Data flow uses "emit"
// (sandbox → host) and "event" (host → sandbox), both wrapping
// { portId, value }.
const (
	MessageMount = "mount"
	MessageReady = "ready"
	MessageEmit  = "emit"
	MessageEvent = "event"
	MessageError = "error"
)

// Message is the structured, serializable unit exchanged with an
// isolated context. Payload stays raw until the receiving side decodes
// it; both sides always work on their own copy of the bytes.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Transport is one endpoint of an isolated execution context. No shared
// memory and no direct function calls cross this boundary; a transport
// moves serialized messages only.
type Transport interface {
	// Send enqueues a message to the isolated context.
	Send(msg Message) error
	// OnMessage registers the single inbound handler.
	OnMessage(fn func(Message))
	// Close releases the channel.
	Close() error
}

// messageValidator bounds payloads crossing the boundary in either
// direction. One message, not one event batch, so the limit is tight.
var messageValidator = utils.NewPayloadSizeValidator(utils.MaxMessageSize)

// EncodeMessage builds a message with a serialized payload copy.
func EncodeMessage(msgType string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	if err := messageValidator.Validate(data); err != nil {
		return Message{}, fmt.Errorf("%s payload rejected: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// DecodePortPayload extracts the { portId, value } shape from an emit
// or event message.
func DecodePortPayload(msg Message) (types.PortPayload, error) {
	var p types.PortPayload
	if len(msg.Payload) == 0 {
		return p, fmt.Errorf("%s message carries no payload", msg.Type)
	}
	if err := messageValidator.Validate(msg.Payload); err != nil {
		return p, fmt.Errorf("%s payload rejected: %w", msg.Type, err)
	}
	if err := sonic.Unmarshal(msg.Payload, &p); err != nil {
		return p, fmt.Errorf("malformed %s payload: %w", msg.Type, err)
	}
	if p.PortID == "" {
		return p, fmt.Errorf("%s payload missing portId", msg.Type)
	}
	return p, nil
}

// CopyValue round-trips a value through the serializer, producing a copy
// with no aliasing back to the sender.
func CopyValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not serializable: %w", err)
	}
	var out interface{}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value copy: %w", err)
	}
	return out, nil
}
