package relay

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/signaling"
)

// NATSBridge is the nats counterpart of RedisBridge
type NATSBridge struct {
	hub *Hub
	nc  *nats.Conn
}

func NewNATSBridge(hub *Hub, nc *nats.Conn) *NATSBridge {
	return &NATSBridge{hub: hub, nc: nc}
}

type natsOutbox struct {
	nc      *nats.Conn
	subject string
}

func (o natsOutbox) Deliver(msg *signaling.Message) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}
	return o.nc.Publish(o.subject, payload)
}

// Run consumes until ctx is done
func (b *NATSBridge) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 256)

	sub, err := b.nc.ChanSubscribe(signaling.SubjectWildcard(signaling.ServerMessages), msgs)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("service", "nats").Msg("unsubscribe")
		}
	}()

	log.Info().Str("service", "nats").Str("subject", sub.Subject).Msg("relay subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			b.handle(m)
		}
	}
}

func (b *NATSBridge) handle(m *nats.Msg) {
	session, participant, ok := signaling.ParseSubject(m.Subject)
	if !ok {
		log.Warn().Str("service", "nats").Str("subject", m.Subject).Msg("unexpected subject")
		return
	}

	msg, err := signaling.MessageFromBytes(m.Data)
	if err != nil {
		log.Warn().Err(err).Str("service", "nats").Msg("drop malformed message")
		return
	}

	outbox := natsOutbox{nc: b.nc, subject: signaling.Subject(signaling.ClientMessages, session, participant)}
	b.hub.Handle(session, participant, outbox, msg)
}
