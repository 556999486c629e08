// SPDX-License-Identifier: MPL-2.0

// Package shm implements the shared blocking channel: a fixed-capacity
// shared region plus a wait/notify primitive that lets exactly two parties
// rendezvous. One party parks in Wait until the other calls Signal; the
// waiter consumes no CPU while parked and cannot miss a wakeup.
//
// The region layout is a 12-byte header followed by the payload body:
//
//	offset 0  state   (unset, set, more)
//	offset 4  status  (caller-defined, e.g. an HTTP status)
//	offset 8  length  (payload bytes in the body)
//	offset 12 body    (capacity bytes)
package shm
