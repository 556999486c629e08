// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"sync"

	"github.com/eapache/queue"
)

// relay forwards values pushed from the router goroutine to a channel
// without ever blocking the pusher. Values are delivered in push order.
type relay[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	notify chan struct{}
	out    chan T
}

func newRelay[T any](buffer int) *relay[T] {
	r := &relay[T]{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
		out:    make(chan T, buffer),
	}
	go r.pump()
	return r
}

func (r *relay[T]) push(v T) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.q.Add(v)
	r.mu.Unlock()
	r.wake()
}

// close stops accepting values. The output channel is closed once every
// queued value has been received.
func (r *relay[T]) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wake()
}

func (r *relay[T]) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *relay[T]) pump() {
	defer close(r.out)
	for {
		r.mu.Lock()
		if r.q.Length() > 0 {
			v, _ := r.q.Remove().(T)
			r.mu.Unlock()
			r.out <- v
			continue
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		<-r.notify
	}
}
