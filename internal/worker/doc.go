// SPDX-License-Identifier: MPL-2.0

// Package worker implements execution contexts: isolated units of execution
// with their own script state, each running on its own OS thread and
// talking to its parent only through protocol messages.
//
// The parent holds a *Worker handle. The child sees a *Scope, the explicit
// environment through which it registers bindings, async handlers, message
// listeners and its exit hook, and through which it fetches resources,
// posts messages and spawns nested workers.
package worker
