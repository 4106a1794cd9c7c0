package signaling

import "sync"

// PipeConn is one end of an in-process connection. Messages go through the
// codec so both ends see exactly what a network peer would.
type PipeConn struct {
	*inbox

	peer *PipeConn

	// senders hold the read lock; closing messages takes the write lock
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewPipe returns two connected ends
func NewPipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{inbox: newInbox("pipe")}
	b := &PipeConn{inbox: newInbox("pipe")}
	a.peer, b.peer = b, a

	return a, b
}

func (c *PipeConn) Send(msg *Message) error {
	if c.stopped() || c.peer.stopped() {
		return ErrClosed
	}

	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	c.peer.receive(payload)

	return nil
}

func (c *PipeConn) receive(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.stopped() {
		return
	}
	c.deliver(payload)
}

// Drop breaks the connection on both ends, as a network failure would
func (c *PipeConn) Drop(err error) {
	c.shutdown(err)
	c.peer.shutdown(err)
}

func (c *PipeConn) Close() error {
	c.shutdown(ErrClosed)
	c.peer.shutdown(ErrClosed)

	return nil
}

func (c *PipeConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.stop(err)

		c.mu.Lock()
		close(c.messages)
		c.mu.Unlock()
	})
}
