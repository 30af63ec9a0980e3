package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout        = 10 * time.Second
	defaultCloseTimeout = 5 * time.Second
)

// Connection is a gorilla socket with serialized writes and idle tracking.
// Reads must come from a single goroutine.
type Connection struct {
	id     string
	socket *websocket.Conn

	writeMu  sync.Mutex
	closed   atomic.Bool
	lastSeen atomic.Int64
}

func NewConnection(id string, socket *websocket.Conn) *Connection {
	c := &Connection{id: id, socket: socket}
	c.seen()
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) WriteMessage(messageType int, data []byte) error {
	return c.WriteMessageContext(context.Background(), messageType, data)
}

// WriteMessageContext gives up at whichever comes first of the ctx
// deadline and writeTimeout. Cancelling ctx interrupts a blocked write;
// the socket is unusable for further writes after that.
func (c *Connection) WriteMessageContext(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	_ = c.socket.SetWriteDeadline(deadline)

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		_ = c.socket.SetWriteDeadline(time.Now())
	})
	err := c.socket.WriteMessage(messageType, data)
	if !stop() {
		// the deadline change must land before writeMu is released
		<-interrupted
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ReadMessage blocks for the next frame. Cancelling ctx forces the read
// to fail and the socket cannot be read again afterwards.
func (c *Connection) ReadMessage(ctx context.Context) (int, []byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.socket.SetReadDeadline(time.Now())
	})
	defer stop()

	mt, payload, err := c.socket.ReadMessage()
	switch {
	case err != nil && ctx.Err() != nil:
		return 0, nil, ctx.Err()
	case err != nil:
		return 0, nil, err
	}
	c.seen()
	return mt, payload, nil
}

// CloseWithStatus tells the peer why before closing.
func (c *Connection) CloseWithStatus(code int, reason string) error {
	if c.closed.Load() {
		return nil
	}
	frame := websocket.FormatCloseMessage(code, reason)
	_ = c.socket.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	return c.Close()
}

func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.socket.Close()
}

// Idle is the time since the peer last sent a frame.
func (c *Connection) Idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

func (c *Connection) seen() { c.lastSeen.Store(time.Now().UnixNano()) }
