// Package connection implements the relay's live connection set.
package connection

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Transport is the subset of *websocket.Conn used for writing.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Timers is the liveness machinery owned by a connection.
type Timers interface {
	Ack()
	Stop()
}

type Identity struct {
	UserID   string
	Username string
}

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Connection is one live transport session. Outbound frames are queued and written
// by a single writer goroutine so callers never block on a slow peer. Presence
// snapshots bypass the queue: only the newest one is kept and it is written first.
type Connection struct {
	ID string

	seq          uint64
	transport    Transport
	writeTimeout time.Duration
	send         chan []byte
	closed       chan struct{}
	presenceMu   sync.Mutex
	presence     []byte
	presenceSet  chan struct{}
	closeOnce    sync.Once
	startOnce    sync.Once
	identity     atomic.Pointer[Identity]
	timersMu     sync.Mutex
	timers       Timers
	done         sync.WaitGroup
}

func NewConnection(transport Transport, options Options) *Connection {
	if options.SendBuffer <= 0 {
		options.SendBuffer = 64
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = 10 * time.Second
	}
	return &Connection{
		ID:           uuid.NewString(),
		transport:    transport,
		writeTimeout: options.WriteTimeout,
		send:         make(chan []byte, options.SendBuffer),
		closed:       make(chan struct{}),
		presenceSet:  make(chan struct{}, 1),
	}
}

// Identity returns the bound identity, if any.
func (c *Connection) Identity() (Identity, bool) {
	id := c.identity.Load()
	if id == nil {
		return Identity{}, false
	}
	return *id, true
}

func (c *Connection) Bound() bool {
	return c.identity.Load() != nil
}

func (c *Connection) bind(identity Identity) bool {
	return c.identity.CompareAndSwap(nil, &identity)
}

func (c *Connection) SetTimers(timers Timers) {
	c.timersMu.Lock()
	c.timers = timers
	c.timersMu.Unlock()
}

// Ack forwards a liveness acknowledgment to the connection's timers.
func (c *Connection) Ack() {
	c.timersMu.Lock()
	timers := c.timers
	c.timersMu.Unlock()
	if timers != nil {
		timers.Ack()
	}
}

func (c *Connection) StopTimers() {
	c.timersMu.Lock()
	timers := c.timers
	c.timersMu.Unlock()
	if timers != nil {
		timers.Stop()
	}
}

// Start launches the writer goroutine. Calling it more than once has no effect.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		c.done.Add(1)
		go c.writeLoop()
	})
}

func (c *Connection) write(data []byte) bool {
	_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.WarnF("[%s] Fail to send data, details: %v", c.ID, err)
		c.Close()
		return false
	}
	logger.DebugF("[%s] Send %d bytes to client", c.ID, len(data))
	return true
}

func (c *Connection) takePresence() []byte {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	data := c.presence
	c.presence = nil
	return data
}

func (c *Connection) writeLoop() {
	defer c.done.Done()
	for {
		// pending presence goes out before queued frames
		select {
		case <-c.presenceSet:
			if data := c.takePresence(); data != nil && !c.write(data) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.closed:
			return
		case <-c.presenceSet:
			if data := c.takePresence(); data != nil && !c.write(data) {
				return
			}
		case data := <-c.send:
			if !c.write(data) {
				return
			}
		}
	}
}

// SetPresence replaces the pending presence snapshot. It never blocks and never
// counts toward the send buffer.
func (c *Connection) SetPresence(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	c.presenceMu.Lock()
	c.presence = data
	c.presenceMu.Unlock()
	select {
	case c.presenceSet <- struct{}{}:
	default:
	}
	return nil
}

// Enqueue queues a frame without blocking. A connection whose queue is full is
// closed, which drives it through the normal eviction path.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		logger.WarnF("[%s] Send buffer full, closing connection", c.ID)
		c.Close()
		return ErrSendBufferFull
	}
}

// Ping sends a liveness probe as a WebSocket ping control frame.
func (c *Connection) Ping() error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close terminates the transport. It is safe to call from any goroutine, any number of times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.transport.Close(); err != nil {
			logger.DebugF("[%s] Error occured while closing transport: %v", c.ID, err)
		}
	})
}

func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// Wait blocks until the writer goroutine has exited.
func (c *Connection) Wait() {
	c.done.Wait()
}
