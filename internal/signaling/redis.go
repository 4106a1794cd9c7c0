package signaling

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
)

// Topic is a redis pub/sub channel family
type Topic string

const (
	// ClientMessages are delivered by the server to a participant
	ClientMessages Topic = "client_messages"
	// ServerMessages are sent by a participant to the server
	ServerMessages Topic = "server_messages"
)

func (t Topic) Channel(session core.SessionID, participant core.ParticipantID) string {
	return string(t) + ":" + string(session) + ":" + string(participant)
}

// Pattern matches the topic across all sessions and participants
func (t Topic) Pattern() string {
	return string(t) + ":*"
}

// ParseChannel extracts session and participant from a channel built by Channel
func (t Topic) ParseChannel(channel string) (core.SessionID, core.ParticipantID, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != string(t) {
		return "", "", false
	}
	return core.SessionID(parts[1]), core.ParticipantID(parts[2]), true
}

type RedisDialer struct {
	Options *redis.Options
}

func NewRedisDialer(conf config.SignalingConfig) *RedisDialer {
	return &RedisDialer{
		Options: &redis.Options{
			Addr:        conf.RedisAddr,
			DialTimeout: conf.HandshakeTimeout,
			// a drop must surface instead of being retried underneath us
			MaxRetries: -1,
		},
	}
}

func (d *RedisDialer) Dial(ctx context.Context, session core.SessionID, self core.ParticipantID) (Conn, error) {
	rdb := redis.NewClient(d.Options)

	pubsub := rdb.Subscribe(ctx, ClientMessages.Channel(session, self))
	// Wait until subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, err
	}

	conn := &redisConn{
		inbox:   newInbox("redis"),
		rdb:     rdb,
		pubsub:  pubsub,
		channel: ServerMessages.Channel(session, self),
	}
	go conn.readPump()

	log.Debug().Str("service", "redis").Str("session", string(session)).Msg("subscribed")

	return conn, nil
}

type redisConn struct {
	*inbox

	rdb     *redis.Client
	pubsub  *redis.PubSub
	channel string
}

// readPump uses Receive instead of Channel() so that a broken connection ends the conn
func (c *redisConn) readPump() {
	defer close(c.messages)

	ctx := context.Background()
	for {
		msg, err := c.pubsub.Receive(ctx)
		if err != nil {
			if !c.stopped() {
				log.Warn().Err(err).Str("service", "redis").Msg("subscription dropped")
			}
			c.stop(err)
			return
		}

		switch m := msg.(type) {
		case *redis.Message:
			if !c.deliver([]byte(m.Payload)) {
				return
			}
		case *redis.Pong, *redis.Subscription:
		}
	}
}

func (c *redisConn) Send(msg *Message) error {
	if c.stopped() {
		return ErrClosed
	}

	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	return c.rdb.Publish(context.Background(), c.channel, payload).Err()
}

func (c *redisConn) Close() error {
	if c.stopped() {
		return nil
	}
	c.stop(ErrClosed)

	err := c.pubsub.Close()
	if cerr := c.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}
