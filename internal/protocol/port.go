// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

type (
	// Port is one end of a bidirectional, ordered message channel.
	// Send never blocks on the receiver; Recv blocks until a message is
	// available, the port is closed, or ctx is done.
	Port interface {
		Send(msg Message) error
		Recv(ctx context.Context) (Message, error)
		Close() error
	}

	// mailbox is an unbounded FIFO with a single blocking consumer.
	mailbox struct {
		mu      sync.Mutex
		q       *queue.Queue
		notify  chan struct{}
		done    chan struct{}
		closed  bool
		closeMu sync.Once
	}

	pipeEnd struct {
		in  *mailbox
		out *mailbox
	}
)

// Pipe returns two connected in-memory ports. Messages sent on one end are
// received in order on the other. Transfer buffers move by reference.
func Pipe() (Port, Port) {
	a2b := newMailbox()
	b2a := newMailbox()
	return &pipeEnd{in: b2a, out: a2b}, &pipeEnd{in: a2b, out: b2a}
}

func (p *pipeEnd) Send(msg Message) error {
	return p.out.put(msg)
}

func (p *pipeEnd) Recv(ctx context.Context) (Message, error) {
	return p.in.take(ctx)
}

// Close stops both directions. Messages already queued toward the peer
// remain readable.
func (p *pipeEnd) Close() error {
	p.out.close()
	p.in.close()
	return nil
}

func newMailbox() *mailbox {
	return &mailbox{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) put(msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.q.Add(msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) take(ctx context.Context) (Message, error) {
	for {
		m.mu.Lock()
		if m.q.Length() > 0 {
			msg, _ := m.q.Remove().(Message)
			m.mu.Unlock()
			return msg, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Message{}, ErrClosed
		}

		select {
		case <-m.notify:
		case <-m.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (m *mailbox) close() {
	m.closeMu.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
}
