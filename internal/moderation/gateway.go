// Package moderation sends host-only commands to the session server.
// It never touches the roster; confirmed changes arrive as roster deltas.
package moderation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
	"github.com/isqad/livelook-classroom/internal/telemetry"
)

type Sender interface {
	Send(msg *signaling.Message) error
}

// Directory answers whether a participant is still in the session
type Directory interface {
	Contains(id core.ParticipantID) bool
}

type Gateway struct {
	self    core.Identity
	sender  Sender
	roster  Directory
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan core.ErrorKind
}

func NewGateway(self core.Identity, sender Sender, roster Directory, timeout time.Duration) *Gateway {
	return &Gateway{
		self:    self,
		sender:  sender,
		roster:  roster,
		timeout: timeout,
		pending: make(map[string]chan core.ErrorKind),
	}
}

func (g *Gateway) MuteParticipant(ctx context.Context, id core.ParticipantID) core.Result {
	return g.request(ctx, signaling.MuteAction, id)
}

func (g *Gateway) RemoveParticipant(ctx context.Context, id core.ParticipantID) core.Result {
	return g.request(ctx, signaling.RemoveAction, id)
}

// request is never retried: the id may belong to someone else after a rejoin
func (g *Gateway) request(ctx context.Context, action signaling.ModerationAction, id core.ParticipantID) (result core.Result) {
	defer func() {
		telemetry.Operation("moderate_"+string(action), result.Err())
	}()

	if !g.self.Role.IsHost() {
		return core.Fail(core.ErrUnauthorized)
	}
	if !g.roster.Contains(id) {
		return core.Fail(core.ErrNotFound)
	}

	msg, err := signaling.NewMessage(signaling.ModerateKind, signaling.ModerateParams{Action: action, Target: id})
	if err != nil {
		return core.Fail(core.ErrRequestFailed)
	}
	msg.RequestID = uuid.NewString()

	reply := make(chan core.ErrorKind, 1)
	g.mu.Lock()
	g.pending[msg.RequestID] = reply
	g.mu.Unlock()
	defer g.forget(msg.RequestID)

	if err := g.sender.Send(msg); err != nil {
		log.Warn().Err(err).Str("service", "moderation").Str("action", string(action)).Msg("send request")
		return core.Fail(core.ErrRequestFailed)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	select {
	case kind := <-reply:
		if kind != "" {
			return core.Fail(kind)
		}
		return core.Ok(id)
	case <-ctx.Done():
		log.Warn().Str("service", "moderation").Str("action", string(action)).Msg("no answer from server")
		return core.Fail(core.ErrRequestFailed)
	}
}

func (g *Gateway) forget(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
}

// Handle resolves the request a moderateAck or moderateReject answers.
// It returns false for replies nobody waits for.
func (g *Gateway) Handle(msg *signaling.Message) bool {
	var kind core.ErrorKind
	switch msg.Kind {
	case signaling.ModerateAckKind:
	case signaling.ModerateRejectKind:
		params := signaling.RejectParams{}
		if err := msg.Decode(&params); err != nil {
			log.Warn().Err(err).Str("service", "moderation").Msg("decode reject")
		}
		kind = rejectKind(params.Reason)
	default:
		return false
	}

	g.mu.Lock()
	reply, ok := g.pending[msg.RequestID]
	delete(g.pending, msg.RequestID)
	g.mu.Unlock()

	if !ok {
		return false
	}
	reply <- kind

	return true
}

func rejectKind(reason string) core.ErrorKind {
	switch reason {
	case signaling.ReasonUnauthorized:
		return core.ErrUnauthorized
	case signaling.ReasonNotFound:
		return core.ErrNotFound
	default:
		return core.ErrRequestFailed
	}
}

// FailAll resolves every outstanding request with RequestFailed
func (g *Gateway) FailAll() {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[string]chan core.ErrorKind)
	g.mu.Unlock()

	for _, reply := range pending {
		reply <- core.ErrRequestFailed
	}
}

func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.pending)
}
