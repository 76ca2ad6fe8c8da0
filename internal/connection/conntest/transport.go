// Package conntest provides an in-memory Transport for tests.
package conntest

import (
	"net"
	"sync"
	"time"
)

type Transport struct {
	mu       sync.Mutex
	messages [][]byte
	pings    int
	closed   bool

	// Gate, when set, makes WriteMessage wait until it is closed.
	Gate chan struct{}
	// Delay slows every WriteMessage down.
	Delay time.Duration
}

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) WriteMessage(_ int, data []byte) error {
	if t.Gate != nil {
		<-t.Gate
	}
	if t.Delay > 0 {
		time.Sleep(t.Delay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	t.messages = append(t.messages, frame)
	return nil
}

func (t *Transport) WriteControl(_ int, _ []byte, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	t.pings++
	return nil
}

func (t *Transport) SetWriteDeadline(time.Time) error {
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Messages returns a copy of every frame written so far.
func (t *Transport) Messages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([][]byte, len(t.messages))
	copy(result, t.messages)
	return result
}

func (t *Transport) Last() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

func (t *Transport) Pings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
