package server

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/relay"
)

type ConnectionHandler struct {
	ws             *websocket.Conn
	conn           *connection.Connection
	hub            *relay.Hub
	credential     string
	maxMessageSize int64
}

func (c *ConnectionHandler) handlePacket() {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			connection.HandleReadError(c.conn.ID, err)
			c.hub.Close(c.conn, err)
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		logger.DebugF("[%s] Receive %d bytes frame", c.conn.ID, len(data))

		// errors only affect this frame
		_ = c.hub.HandleMessage(context.Background(), c.conn, data)
	}
}

func (c *ConnectionHandler) handleConnection() {
	defer func() {
		logger.DebugF("[%s] Connection closed", c.conn.ID)
		c.conn.Close()
		c.conn.Wait()
	}()

	if c.maxMessageSize > 0 {
		c.ws.SetReadLimit(c.maxMessageSize)
	}
	c.ws.SetPongHandler(func(string) error {
		c.hub.Pong(c.conn)
		return nil
	})

	if err := c.hub.Open(c.conn, c.credential); err != nil {
		logger.WarnF("[%s] Fail to open connection, details: %v", c.conn.ID, err)
		return
	}

	c.handlePacket()
}
