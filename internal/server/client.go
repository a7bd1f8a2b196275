package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Client is one websocket connection. Outbound frames go through a buffered
// queue drained by writePump, so senders never block on the network.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	flushOnce sync.Once

	closeCode   websocket.StatusCode
	closeReason string
}

func newClient(id string, conn *websocket.Conn, queue int, logger *slog.Logger) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, queue),
		logger:  logger,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Enqueue queues a frame without blocking. A full queue means the peer is not
// keeping up; the connection is closed and the frame dropped.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case <-c.closing:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send queue full, closing connection", slog.Int("queue", cap(c.send)))
		go c.Close(websocket.StatusPolicyViolation, "send queue overflow")
		return false
	}
}

// CloseAfterFlush stops accepting frames and closes the connection once the
// frames already queued have been written.
func (c *Client) CloseAfterFlush(code websocket.StatusCode, reason string) {
	c.flushOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.closing)
	})
	if c.conn == nil {
		c.Close(code, reason)
	}
}

// Close closes the connection immediately. Safe to call more than once.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close(code, reason)
		}
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.closing:
			c.flush(ctx)
			c.Close(c.closeCode, c.closeReason)
			return
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				c.logger.Debug("write failed", slog.String("error", err.Error()))
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Client) flush(ctx context.Context) {
	for {
		select {
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
