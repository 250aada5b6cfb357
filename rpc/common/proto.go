package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request only fields
	Service string `json:"service,omitempty"` // Target service name
	Method  string `json:"method,omitempty"`  // Method to invoke on the service

	// General fields
	Payload []byte `json:"payload,omitempty"` // Encoded arguments (request) or result (response)

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // True if the remote call succeeded
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional attachments
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCallRequest creates a new Call request
func NewCallRequest(service, method string, payload []byte) *Message {
	return &Message{
		MsgType: MsgTCall,
		Service: service,
		Method:  method,
		Payload: payload,
	}
}

// NewReplyResponse creates a new Reply response
func NewReplyResponse(payload []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTReply,
		Payload: payload,
		Ok:      err == nil,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewEventMessage creates a new Event message
func NewEventMessage(meta []byte) *Message {
	return &Message{
		MsgType: MsgTEvent,
		Meta:    meta,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Request Context
// --------------------------------------------------------------------------

// RequestContext correlates an outbound request with its eventual response.
// The owner of a worker assigns the RequestID; the worker stamps WorkerID on
// every write so in-flight failures can be attributed to a specific worker
// when that worker closes.
type RequestContext struct {
	RequestID uint64
	WorkerID  uint64
	Message   *Message
	CreatedAt time.Time
}

// NewRequestContext creates a new RequestContext for the given message
func NewRequestContext(requestID uint64, msg *Message) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		Message:   msg,
		CreatedAt: time.Now(),
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTCall:
		return "call"
	case MsgTReply:
		return "reply"
	case MsgTEvent:
		return "event"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "call":
		*t = MsgTCall
	case "reply":
		*t = MsgTReply
	case "event":
		*t = MsgTEvent
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// RPC operations

	MsgTCall  // Invoke a method on a remote service
	MsgTReply // Result of a remote method invocation
	MsgTEvent // Out-of-band event (no correlated request)
)
