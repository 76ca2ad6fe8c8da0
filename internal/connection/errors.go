package connection

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

// HandleReadError logs why a connection's read loop ended.
func HandleReadError(connID string, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.InfoF("[%s] Client close connection", connID)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		logger.InfoF("[%s] Client dropped connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	case IsNetClosedError(err):
		logger.DebugF("[%s] Connection closed locally", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading frame, details: %v", connID, err)
	}
}
