package message

import (
	"context"
	"errors"
	"sync"
)

// defaultStreamBuffer bounds the producer/consumer channel so a fast
// producer cannot grow memory without the consumer keeping up.
const defaultStreamBuffer = 16

// Stream is a finite, lazily-produced sequence of messages with explicit
// end-of-sequence signaling. A node's asynchronous body produces into the
// stream; the engine (or the caller, for the terminal streaming node)
// consumes it. A stream is not restartable: once drained it stays drained.
//
// Producer side: Send, then exactly one Close or CloseWithError.
// Consumer side: Recv until ok is false, then Err for the terminal error.
type Stream struct {
	ch chan Message

	mu     sync.Mutex
	err    error
	closed bool
}

// NewStream creates a stream with the default buffer size.
func NewStream() *Stream {
	return NewStreamBuffered(defaultStreamBuffer)
}

// NewStreamBuffered creates a stream whose channel holds up to n messages.
func NewStreamBuffered(n int) *Stream {
	if n < 1 {
		n = 1
	}
	return &Stream{ch: make(chan Message, n)}
}

// Send delivers one message to the consumer, blocking while the buffer is
// full. Returns ctx.Err if the context ends first, or an error if the
// producer already closed the stream.
func (s *Stream) Send(ctx context.Context, m Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("send on closed stream")
	}
	select {
	case s.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the sequence. Idempotent.
func (s *Stream) Close() {
	s.CloseWithError(nil)
}

// CloseWithError marks the end of the sequence with a terminal error.
// Only the first close takes effect.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Recv returns the next message. ok is false once the stream is closed
// and fully drained; check Err then.
func (s *Stream) Recv() (m Message, ok bool) {
	m, ok = <-s.ch
	return m, ok
}

// Err returns the terminal error set by CloseWithError, if any.
// Meaningful only after Recv has reported ok=false.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain consumes the stream to completion and returns everything produced.
func (s *Stream) Drain() ([]Message, error) {
	var out []Message
	for {
		m, ok := s.Recv()
		if !ok {
			return out, s.Err()
		}
		out = append(out, m)
	}
}
