package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
	sendBuffer   = 32
)

// Client is one connected state stream subscriber.
type Client struct {
	ws      *websocket.Conn
	send    chan []byte
	logger  *zap.Logger
	onClose func(*Client)

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(ws *websocket.Conn, logger *zap.Logger, onClose func(*Client)) *Client {
	return &Client{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		logger:  logger,
		onClose: onClose,
	}
}

// Send queues a message. Returns false when the client's buffer is full or
// the client is already closed.
func (c *Client) Send(payload []byte) (queued bool) {
	// Close can race with a broadcast; a send on the closed channel must
	// degrade to a dropped message, not a panic.
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close tears the connection down once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// Start launches the read and write pumps and blocks until the connection
// drops or ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards inbound frames; subscribers only listen. It keeps the
// pong deadline fresh and detects disconnects.
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.ws.SetReadLimit(4 * 1024)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.logger.Debug("state stream subscriber disconnected", zap.Error(err))
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, payload)
}
