// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// StreamPort is a Port over a byte stream such as a subprocess's stdio or
// a socket. Messages are framed as a sequence of CBOR data items.
type StreamPort struct {
	rwc   io.ReadWriteCloser
	wmu   sync.Mutex
	enc   *cbor.Encoder
	inbox *mailbox

	errMu   sync.Mutex
	readErr error

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewStreamPort wraps rwc and starts decoding incoming messages.
func NewStreamPort(rwc io.ReadWriteCloser) *StreamPort {
	p := &StreamPort{
		rwc:   rwc,
		enc:   cbor.NewEncoder(rwc),
		inbox: newMailbox(),
	}
	go p.readLoop(cbor.NewDecoder(rwc))
	return p
}

// Send encodes msg onto the stream.
func (p *StreamPort) Send(msg Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if err := p.enc.Encode(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Recv returns the next decoded message. Once the stream ends it returns
// ErrClosed, or a ProtocolError if the stream carried malformed data.
func (p *StreamPort) Recv(ctx context.Context) (Message, error) {
	msg, err := p.inbox.take(ctx)
	if errors.Is(err, ErrClosed) {
		p.errMu.Lock()
		readErr := p.readErr
		p.errMu.Unlock()
		if readErr != nil {
			return Message{}, readErr
		}
	}
	return msg, err
}

// Close closes the underlying stream.
func (p *StreamPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.rwc.Close()
		p.inbox.close()
	})
	return err
}

func (p *StreamPort) readLoop(dec *cbor.Decoder) {
	defer p.inbox.close()

	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if !p.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.errMu.Lock()
				p.readErr = &ProtocolError{Reason: err.Error()}
				p.errMu.Unlock()
			}
			return
		}
		if err := p.inbox.put(msg); err != nil {
			return
		}
	}
}
