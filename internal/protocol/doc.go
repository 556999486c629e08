// SPDX-License-Identifier: MPL-2.0

// Package protocol defines the message protocol spoken between a parent
// execution context and its children, and the Router that dispatches it.
//
// Every message carries a Method. Requests (evaluate, asyncInvoke) carry a
// request key generated by the requester; exactly one response is produced
// per key, and responses for unknown keys are dropped. deliverMessage,
// shutdown, cancel and error are one-way. A message with an unknown method
// is a protocol violation and ends the receiving Router's Run loop.
//
// Payloads are structured-cloned with CBOR so no mutable state is shared
// across contexts; transferables move by reference on in-memory pipes.
package protocol
