package realtime

import (
	"sync"

	v1 "relay/shared/contracts/realtime/v1"
)

// Conn is one live websocket connection as seen by the registry.
//
// The send queue is never closed. Close only signals Done, so a broadcast
// racing with shutdown can never panic on a closed channel.
type Conn struct {
	ID       string
	UserID   string
	ThreadID string

	send      chan v1.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn builds a connection with a bounded send queue.
func NewConn(id, userID, threadID string, queue int) *Conn {
	if queue < 1 {
		queue = 1
	}
	return &Conn{
		ID:       id,
		UserID:   userID,
		ThreadID: threadID,
		send:     make(chan v1.Frame, queue),
		done:     make(chan struct{}),
	}
}

// Send is the queue drained by the connection's writer.
func (c *Conn) Send() <-chan v1.Frame { return c.send }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection as shut down. Safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue never blocks. It reports false when the connection is closed or
// its queue is full.
func (c *Conn) enqueue(f v1.Frame) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}
