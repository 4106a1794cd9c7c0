package signaling

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 200 * 1024
)

type WebsocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	Jar              http.CookieJar
}

func NewWebsocketDialer(conf config.SignalingConfig) (*WebsocketDialer, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	return &WebsocketDialer{
		URL:              conf.URL,
		HandshakeTimeout: conf.HandshakeTimeout,
		PingPeriod:       conf.PingPeriod,
		Jar:              jar,
	}, nil
}

func (d *WebsocketDialer) Dial(ctx context.Context, session core.SessionID, self core.ParticipantID) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("session", string(session))
	q.Set("participant", string(self))
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{
		Jar:              d.Jar,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn := &websocketConn{
		conn:  c,
		inbox: newInbox("websocket"),
	}

	go conn.readPump(d.PingPeriod)
	if d.PingPeriod > 0 {
		go conn.pingPump(d.PingPeriod)
	}

	log.Debug().Str("service", "websocket").Str("session", string(session)).Msg("connected")

	return conn, nil
}

type websocketConn struct {
	*inbox

	conn *websocket.Conn
	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func (c *websocketConn) readPump(pingPeriod time.Duration) {
	defer close(c.messages)

	c.conn.SetReadLimit(maxMessageSize)
	if pingPeriod > 0 {
		pongWait := pingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("service", "websocket").Msg("connection dropped")
			}
			c.stop(err)
			return
		}
		if !c.deliver(payload) {
			return
		}
	}
}

func (c *websocketConn) pingPump(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.stop(err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *websocketConn) Send(msg *Message) error {
	if c.stopped() {
		return ErrClosed
	}

	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *websocketConn) Close() error {
	if c.stopped() {
		return nil
	}
	c.stop(ErrClosed)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}
