package relay

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
)

var (
	ErrInvalidCredential = auth.ErrInvalidCredential
	ErrMalformedEvent    = protocol.ErrMalformedEvent
	ErrUnboundSender     = errors.New("sender connection is not bound to a user")
	ErrStoreUnavailable  = errors.New("message store unavailable")

	// ErrHeartbeatTimeout is the eviction reason for peers that stop answering pings.
	ErrHeartbeatTimeout    = errors.New("heartbeat timeout")
	ErrRelayShutdown       = errors.New("relay shutting down")
	ErrDuplicateConnection = errors.New("connection already registered")
)
