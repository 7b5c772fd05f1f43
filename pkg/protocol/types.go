// Package protocol defines the envelope and payload shapes exchanged
// between a content view and its host.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageSize bounds a single serialized envelope in either direction.
const MaxMessageSize = 1024 * 1024

// Outbound (content -> host).
const (
	TypePageLoaded          = "PAGE_LOADED"
	TypeReady               = "READY"
	TypePageChanged         = "PAGE_CHANGED"
	TypeValueChanged        = "VALUE_CHANGED"
	TypeSaveProgress        = "SAVE_PROGRESS"
	TypeComplete            = "COMPLETE"
	TypeError               = "ERROR"
	TypeAutocompleteRequest = "AUTOCOMPLETE_REQUEST"
	TypeDetailsRequest      = "DETAILS_REQUEST"
)

// Inbound (host -> content). ERROR is shared with the outbound family.
const (
	TypeInit               = "INIT"
	TypeAutocompleteResult = "AUTOCOMPLETE_RESULT"
	TypeDetailsResult      = "DETAILS_RESULT"
)

var ErrMessageTooLarge = errors.New("message too large")

// Message is the wire envelope. Payload stays raw until a consumer that
// owns the type decodes it.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope of the given type.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// Encode serializes the envelope, enforcing MaxMessageSize.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}
	return data, nil
}

// Decode parses one serialized envelope.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("message has no type")
	}
	return msg, nil
}

// Namespace is the set of message types one bridge owns. Transports drop
// anything outside it so several bridges can share a physical channel.
type Namespace map[string]struct{}

func NewNamespace(types ...string) Namespace {
	ns := make(Namespace, len(types))
	for _, t := range types {
		ns[t] = struct{}{}
	}
	return ns
}

func (ns Namespace) Contains(msgType string) bool {
	if ns == nil {
		return true
	}
	_, ok := ns[msgType]
	return ok
}

// InboundNamespace is every type a content view accepts from its host.
func InboundNamespace() Namespace {
	return NewNamespace(TypeInit, TypeAutocompleteResult, TypeDetailsResult, TypeError)
}
