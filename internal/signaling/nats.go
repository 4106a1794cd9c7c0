package signaling

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
)

const subjectPrefix = "livelook"

// Subject is the nats subject of a topic for one participant
func Subject(t Topic, session core.SessionID, participant core.ParticipantID) string {
	return strings.Join([]string{subjectPrefix, string(t), string(session), string(participant)}, ".")
}

// SubjectWildcard matches the topic across all sessions and participants
func SubjectWildcard(t Topic) string {
	return subjectPrefix + "." + string(t) + ".>"
}

// ParseSubject extracts session and participant from a subject built by Subject
func ParseSubject(subject string) (core.SessionID, core.ParticipantID, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != subjectPrefix {
		return "", "", false
	}
	return core.SessionID(parts[2]), core.ParticipantID(parts[3]), true
}

type NATSDialer struct {
	URL     string
	Options []nats.Option
}

func NewNATSDialer(conf config.SignalingConfig) *NATSDialer {
	return &NATSDialer{
		URL:     conf.NATSURL,
		Options: []nats.Option{nats.Timeout(conf.HandshakeTimeout)},
	}
}

func (d *NATSDialer) Dial(ctx context.Context, session core.SessionID, self core.ParticipantID) (Conn, error) {
	conn := &natsConn{
		inbox:   newInbox("nats"),
		subject: Subject(ServerMessages, session, self),
		msgs:    make(chan *nats.Msg, 64),
	}

	opts := append([]nats.Option{
		nats.Name("livelook-" + string(self)),
		nats.NoEcho(),
		// reconnecting is the session's job
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			conn.stop(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			conn.stop(nats.ErrConnectionClosed)
		}),
	}, d.Options...)

	nc, err := nats.Connect(d.URL, opts...)
	if err != nil {
		return nil, err
	}
	conn.nc = nc

	conn.sub, err = nc.ChanSubscribe(Subject(ClientMessages, session, self), conn.msgs)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	go conn.readPump()

	log.Debug().Str("service", "nats").Str("session", string(session)).Msg("subscribed")

	return conn, nil
}

type natsConn struct {
	*inbox

	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	msgs    chan *nats.Msg
}

func (c *natsConn) readPump() {
	defer close(c.messages)

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.msgs:
			if !c.deliver(msg.Data) {
				return
			}
		}
	}
}

func (c *natsConn) Send(msg *Message) error {
	if c.stopped() {
		return ErrClosed
	}

	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	return c.nc.Publish(c.subject, payload)
}

func (c *natsConn) Close() error {
	if c.stopped() {
		return nil
	}
	c.stop(ErrClosed)

	if err := c.sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Str("service", "nats").Msg("unsubscribe")
	}
	c.nc.Close()

	return nil
}
