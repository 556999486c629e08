// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// MethodEvaluate runs code synchronously on the receiver's thread.
	MethodEvaluate Method = "evaluate"
	// MethodAsyncInvoke calls a named handler; the receiver keeps servicing
	// messages while the handler is pending.
	MethodAsyncInvoke Method = "asyncInvoke"
	// MethodDeliverMessage raises a message event in the receiver.
	MethodDeliverMessage Method = "deliverMessage"
	// MethodShutdown runs the receiver's exit hook and ends its context.
	MethodShutdown Method = "shutdown"
	// MethodResponse settles a request identified by its key.
	MethodResponse Method = "response"
	// MethodCancel aborts a pending asyncInvoke identified by its key.
	MethodCancel Method = "cancel"
	// MethodError forwards an uncaught failure to the parent as an error event.
	MethodError Method = "error"
)

type (
	// Method selects how a Message is dispatched.
	Method string

	// Message is the unit exchanged over a Port.
	Message struct {
		Method Method `cbor:"method"`
		// Key correlates a request with its response.
		Key string `cbor:"key,omitempty"`
		// Name selects the handler for asyncInvoke.
		Name string `cbor:"name,omitempty"`
		// Payload is the CBOR-encoded code, request, message or result.
		Payload cbor.RawMessage `cbor:"payload,omitempty"`
		// Failed marks a response whose Error field carries the outcome.
		Failed bool `cbor:"failed,omitempty"`
		// Error is the string rendering of a failure.
		Error string `cbor:"error,omitempty"`
		// Transfer holds buffers whose ownership moves to the receiver.
		Transfer [][]byte `cbor:"transfer,omitempty"`
	}
)

// Validate returns nil if the Method is one of the defined methods,
// or an error wrapping ErrInvalidMethod if it is not.
func (m Method) Validate() error {
	switch m {
	case MethodEvaluate, MethodAsyncInvoke, MethodDeliverMessage, MethodShutdown,
		MethodResponse, MethodCancel, MethodError:
		return nil
	default:
		return &InvalidMethodError{Value: m}
	}
}

// keyed reports whether messages of this method must carry a request key.
func (m Method) keyed() bool {
	switch m {
	case MethodEvaluate, MethodAsyncInvoke, MethodResponse, MethodCancel:
		return true
	default:
		return false
	}
}

// Validate checks the message shape. Any error it returns is a protocol violation.
func (msg Message) Validate() error {
	if err := msg.Method.Validate(); err != nil {
		return err
	}
	if msg.Method.keyed() && msg.Key == "" {
		return &ProtocolError{Method: msg.Method, Reason: "missing request key"}
	}
	if msg.Method == MethodAsyncInvoke && msg.Name == "" {
		return &ProtocolError{Method: msg.Method, Reason: "missing handler name"}
	}
	return nil
}

// Encode structured-clones v into a CBOR payload.
func Encode(v any) (cbor.RawMessage, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode unpacks a CBOR payload into v.
func Decode(data cbor.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
