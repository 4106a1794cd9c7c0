package signaling

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
)

// Conn is one established transport connection to the session server.
// Messages is closed when the connection drops or is closed; Err tells which.
type Conn interface {
	Send(msg *Message) error
	Messages() <-chan *Message
	Err() error
	Close() error
}

// Dialer opens a session-scoped connection
type Dialer interface {
	Dial(ctx context.Context, session core.SessionID, self core.ParticipantID) (Conn, error)
}

// NewDialer picks the transport named by the configuration
func NewDialer(conf config.SignalingConfig) (Dialer, error) {
	switch conf.Transport {
	case "websocket", "":
		return NewWebsocketDialer(conf)
	case "redis":
		return NewRedisDialer(conf), nil
	case "nats":
		return NewNATSDialer(conf), nil
	default:
		return nil, ErrUnknownTransport
	}
}

// inbox is the receive side shared by all transports. Only the transport's
// reader goroutine sends on messages and closes it.
type inbox struct {
	messages chan *Message
	done     chan struct{}
	once     sync.Once
	err      *atomic.Error
	service  string
}

func newInbox(service string) *inbox {
	return &inbox{
		messages: make(chan *Message, 64),
		done:     make(chan struct{}),
		err:      atomic.NewError(nil),
		service:  service,
	}
}

// deliver decodes the payload and queues it; false once the inbox is stopped
func (in *inbox) deliver(payload []byte) bool {
	msg, err := MessageFromBytes(payload)
	if err != nil {
		log.Error().Err(err).Str("service", in.service).Msg("drop malformed message")
		return true
	}

	select {
	case in.messages <- msg:
		return true
	case <-in.done:
		return false
	}
}

// stop records the first cause and wakes the reader
func (in *inbox) stop(err error) {
	in.once.Do(func() {
		in.err.Store(err)
		close(in.done)
	})
}

func (in *inbox) stopped() bool {
	select {
	case <-in.done:
		return true
	default:
		return false
	}
}

func (in *inbox) Messages() <-chan *Message {
	return in.messages
}

func (in *inbox) Err() error {
	return in.err.Load()
}
