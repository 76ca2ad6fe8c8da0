// Package relay implements the connection lifecycle: identity binding, heartbeat,
// presence announcements and message routing.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
)

type Verifier interface {
	Verify(ctx context.Context, credential string) (connection.Identity, error)
}

type Options struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	VerifyTimeout   time.Duration
	CloseUnverified bool
}

type Hub struct {
	options     Options
	registry    *connection.Registry
	broadcaster *Broadcaster
	router      *Router
	verifier    Verifier

	// mu orders Open against Shutdown so no connection registers after the sweep
	mu      sync.Mutex
	closing bool
	ctx     context.Context
	cancel  context.CancelFunc
	binds   sync.WaitGroup
}

func NewHub(options Options, registry *connection.Registry, verifier Verifier, broadcaster *Broadcaster, router *Router) *Hub {
	if options.PingInterval <= 0 {
		options.PingInterval = 3500 * time.Millisecond
	}
	if options.PongTimeout <= 0 {
		options.PongTimeout = time.Second
	}
	if options.VerifyTimeout <= 0 {
		options.VerifyTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		options:     options,
		registry:    registry,
		broadcaster: broadcaster,
		router:      router,
		verifier:    verifier,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) Registry() *connection.Registry {
	return h.registry
}

// Open registers a freshly upgraded connection, starts its heartbeat, announces presence
// and begins identity verification in the background.
func (h *Hub) Open(conn *connection.Connection, credential string) error {
	heartbeat := NewHeartbeat(h.options.PingInterval, h.options.PongTimeout, conn.Ping, func() {
		h.evict(conn, ErrHeartbeatTimeout)
	})

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		conn.Close()
		return ErrRelayShutdown
	}
	if !h.registry.Add(conn) {
		h.mu.Unlock()
		return ErrDuplicateConnection
	}
	// timers are attached before Shutdown can sweep the connection
	conn.SetTimers(heartbeat)
	h.binds.Add(1)
	h.mu.Unlock()

	conn.Start()
	heartbeat.Start()
	h.broadcaster.Announce()

	go h.bind(conn, credential)
	return nil
}

func (h *Hub) bind(conn *connection.Connection, credential string) {
	defer h.binds.Done()

	ctx, cancel := context.WithTimeout(h.ctx, h.options.VerifyTimeout)
	defer cancel()

	identity, err := h.verifier.Verify(ctx, credential)
	if err != nil {
		logger.InfoF("[%s] Identity verification failed: %v", conn.ID, err)
		if h.options.CloseUnverified {
			h.evict(conn, ErrInvalidCredential)
		}
		return
	}

	if err := h.registry.Bind(conn, identity); err != nil {
		logger.DebugF("[%s] Bind skipped: %v", conn.ID, err)
		return
	}
	h.broadcaster.Announce()
}

// Pong records a liveness acknowledgment.
func (h *Hub) Pong(conn *connection.Connection) {
	conn.Ack()
}

// HandleMessage processes one inbound frame. Errors are local to the frame.
func (h *Hub) HandleMessage(ctx context.Context, conn *connection.Connection, data []byte) error {
	event, err := protocol.ParseInboundEvent(data)
	if err != nil {
		logger.DebugF("[%s] Discarding inbound frame: %v", conn.ID, err)
		return err
	}
	if _, err = h.router.HandleInbound(ctx, conn, event); err != nil {
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			logger.ErrorF("[%s] Message lost: %v", conn.ID, err)
		default:
			logger.DebugF("[%s] Discarding inbound event: %v", conn.ID, err)
		}
		return err
	}
	return nil
}

// Close evicts a connection whose transport has ended.
func (h *Hub) Close(conn *connection.Connection, reason error) {
	h.evict(conn, reason)
}

func (h *Hub) evict(conn *connection.Connection, reason error) {
	removed := h.registry.Remove(conn)
	conn.Close()
	if !removed {
		return
	}
	if errors.Is(reason, ErrHeartbeatTimeout) {
		logger.WarnF("[%s] Evicted: %v", conn.ID, reason)
	} else {
		logger.DebugF("[%s] Evicted: %v", conn.ID, reason)
	}
	if h.ctx.Err() == nil {
		h.broadcaster.Announce()
	}
}

// Shutdown closes every connection and waits for pending verifications and blob writes.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.cancel()
	h.mu.Unlock()

	var members []*connection.Connection
	h.registry.ForEachLive(func(conn *connection.Connection) {
		members = append(members, conn)
	})
	for _, conn := range members {
		h.evict(conn, ErrRelayShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.binds.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.router.WaitBlobs(ctx)
}

type HubCloseCallback struct {
	hub *Hub
}

func NewHubCloseCallback(hub *Hub) *HubCloseCallback {
	return &HubCloseCallback{hub: hub}
}

func (hc *HubCloseCallback) Invoke(ctx context.Context) error {
	logger.Info("Closing relay connections")
	return hc.hub.Shutdown(ctx)
}
