package realtime

import (
	"sync"

	v1 "hub/shared/contracts/realtime/v1"
)

// streamConn is the per-connection outbound side of one stream.
//
// Send is never closed by the server: producers race with shutdown, and a
// closed channel would panic them. done signals the goroutines to stop.
type streamConn struct {
	ID   string
	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newStreamConn(id string, sendQueueSize int) *streamConn {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &streamConn{
		ID:   id,
		Send: make(chan v1.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *streamConn) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *streamConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
