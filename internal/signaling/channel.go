package signaling

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/telemetry"
)

// Channel is the single outbound conduit of a session. Several components
// send through it; only the session reads the attached connection.
type Channel struct {
	self core.ParticipantID

	mu      sync.RWMutex
	session core.SessionID
	conn    Conn
}

func NewChannel(self core.ParticipantID) *Channel {
	return &Channel{self: self}
}

// Attach installs a freshly dialed connection, closing any previous one
func (c *Channel) Attach(session core.SessionID, conn Conn) {
	c.mu.Lock()
	prev := c.conn
	c.session = session
	c.conn = conn
	c.mu.Unlock()

	if prev != nil && prev != conn {
		closeConn(prev)
	}
}

// Detach forgets conn if it is still the attached one. The connection is not closed.
func (c *Channel) Detach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return false
	}
	c.conn = nil

	return true
}

func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil
}

// Send stamps the session and sender on msg
func (c *Channel) Send(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	session := c.session
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	msg.Session = session
	msg.From = c.self

	if err := conn.Send(msg); err != nil {
		return err
	}
	telemetry.SignalingMessages.WithLabelValues("out", string(msg.Kind)).Inc()

	return nil
}

// Close detaches and closes the current connection
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		closeConn(conn)
	}
}

func closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("service", "signaling").Msg("close connection")
	}
}
