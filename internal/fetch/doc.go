// SPDX-License-Identifier: MPL-2.0

// Package fetch lets an execution context obtain a resource with a single
// blocking call while the actual network I/O runs on a helper goroutine.
//
// Data URLs are decoded and file URLs are read on the caller's goroutine.
// Everything else is requested by a helper that streams the response body
// back through a shared shm.Channel, one chunk per rendezvous, so bodies of
// any size arrive intact.
package fetch
