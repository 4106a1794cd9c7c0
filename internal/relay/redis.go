package relay

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/signaling"
)

// RedisBridge feeds the hub from the server_messages pub/sub channels and
// answers on client_messages. Pub/sub carries no presence, so participants
// served this way only leave explicitly.
type RedisBridge struct {
	hub *Hub
	rdb *redis.Client
}

func NewRedisBridge(hub *Hub, rdb *redis.Client) *RedisBridge {
	return &RedisBridge{hub: hub, rdb: rdb}
}

type redisOutbox struct {
	rdb     *redis.Client
	channel string
}

func (o redisOutbox) Deliver(msg *signaling.Message) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}
	return o.rdb.Publish(context.Background(), o.channel, payload).Err()
}

// Run consumes until ctx is done or the subscription breaks
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, signaling.ServerMessages.Pattern())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	log.Info().Str("service", "redis").Str("pattern", signaling.ServerMessages.Pattern()).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(m)
		}
	}
}

func (b *RedisBridge) handle(m *redis.Message) {
	session, participant, ok := signaling.ServerMessages.ParseChannel(m.Channel)
	if !ok {
		log.Warn().Str("service", "redis").Str("channel", m.Channel).Msg("unexpected channel")
		return
	}

	msg, err := signaling.MessageFromBytes([]byte(m.Payload))
	if err != nil {
		log.Warn().Err(err).Str("service", "redis").Msg("drop malformed message")
		return
	}

	outbox := redisOutbox{rdb: b.rdb, channel: signaling.ClientMessages.Channel(session, participant)}
	b.hub.Handle(session, participant, outbox, msg)
}
