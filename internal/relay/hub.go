// Package relay is a signaling-only session server for development and
// end to end tests. It keeps the roster of every session and forwards
// negotiation messages between participants; it never touches media.
package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
	"github.com/isqad/livelook-classroom/internal/telemetry"
)

// Outbox delivers server messages to one connected participant. Outboxes of
// the same connection must compare equal.
type Outbox interface {
	Deliver(msg *signaling.Message) error
}

type HubOptions struct {
	MaxParticipants int
	// OfflineGrace is how long a disconnected participant stays in the roster
	OfflineGrace time.Duration
	Audit        Auditor
}

type Hub struct {
	opts HubOptions

	mu    sync.Mutex
	rooms map[core.SessionID]*room
}

type room struct {
	id      core.SessionID
	seq     uint64
	members map[core.ParticipantID]*member
}

type member struct {
	participant core.Participant
	outbox      Outbox
	offline     *time.Timer
}

func NewHub(opts HubOptions) *Hub {
	if opts.Audit == nil {
		opts.Audit = NopAuditor{}
	}
	return &Hub{
		opts:  opts,
		rooms: make(map[core.SessionID]*room),
	}
}

// Handle processes one message a participant sent through outbox's connection
func (h *Hub) Handle(session core.SessionID, from core.ParticipantID, outbox Outbox, msg *signaling.Message) {
	telemetry.SignalingMessages.WithLabelValues("relay", string(msg.Kind)).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	msg.Session = session
	msg.From = from

	if msg.Kind == signaling.JoinKind {
		h.join(h.room(session), from, outbox, msg)
		return
	}

	r, ok := h.rooms[session]
	if !ok {
		log.Debug().Str("service", "relay").Str("session", string(session)).Str("kind", string(msg.Kind)).Msg("message for unknown session")
		return
	}
	m, ok := r.members[from]
	if !ok || m.outbox != outbox {
		log.Debug().Str("service", "relay").Str("participant", string(from)).Str("kind", string(msg.Kind)).Msg("message from non member")
		return
	}

	switch msg.Kind {
	case signaling.LeaveKind:
		h.leave(r, from)
	case signaling.OfferKind, signaling.AnswerKind, signaling.ICECandidateKind:
		h.forward(r, msg)
	case signaling.MediaStateKind:
		h.mediaState(r, m, msg)
	case signaling.ModerateKind:
		h.moderate(r, m, msg)
	default:
		log.Debug().Str("service", "relay").Str("kind", string(msg.Kind)).Msg("drop unexpected message")
	}
}

// Disconnect marks the participant offline when outbox is still its connection
func (h *Hub) Disconnect(session core.SessionID, from core.ParticipantID, outbox Outbox) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[session]
	if !ok {
		return
	}
	m, ok := r.members[from]
	if !ok || m.outbox != outbox {
		return
	}

	m.outbox = nil
	m.participant.Online = false
	h.broadcast(r, signaling.DeltaParams{
		Event:       signaling.DeltaPresenceChanged,
		Participant: m.participant,
	}, "")

	grace := h.opts.OfflineGrace
	m.offline = time.AfterFunc(grace, func() { h.expire(session, from, m) })

	log.Info().Str("service", "relay").Str("session", string(session)).Str("participant", string(from)).Msg("participant offline")
}

func (h *Hub) expire(session core.SessionID, id core.ParticipantID, m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[session]
	if !ok || r.members[id] != m || m.outbox != nil {
		return
	}
	h.leave(r, id)
}

// Roster returns the members of a session ordered like the client roster
func (h *Hub) Roster(session core.SessionID) []core.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[session]
	if !ok {
		return []core.Participant{}
	}
	return r.roster()
}

func (h *Hub) room(session core.SessionID) *room {
	r, ok := h.rooms[session]
	if !ok {
		r = &room{id: session, members: make(map[core.ParticipantID]*member)}
		h.rooms[session] = r
	}
	return r
}

func (r *room) roster() []core.Participant {
	list := make([]core.Participant, 0, len(r.members))
	for _, m := range r.members {
		list = append(list, m.participant)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (h *Hub) join(r *room, from core.ParticipantID, outbox Outbox, msg *signaling.Message) {
	params := signaling.JoinParams{}
	if err := msg.Decode(&params); err != nil || params.Participant.ID != from || !params.Participant.Role.Valid() {
		h.reply(outbox, msg, signaling.JoinRejectKind, signaling.RejectParams{Reason: signaling.ReasonUnauthorized}, r.seq)
		h.dropEmpty(r)
		return
	}

	// a rejoin or a second tab takes over the membership
	if m, ok := r.members[from]; ok {
		if m.offline != nil {
			m.offline.Stop()
			m.offline = nil
		}
		wasOnline := m.participant.Online
		m.outbox = outbox
		m.participant.Online = true

		r.seq++
		h.reply(outbox, msg, signaling.JoinAckKind, signaling.JoinAckParams{Roster: r.roster()}, r.seq)
		if !wasOnline {
			h.broadcast(r, signaling.DeltaParams{Event: signaling.DeltaPresenceChanged, Participant: m.participant}, from)
		}
		return
	}

	if params.Rejoin {
		h.reply(outbox, msg, signaling.JoinRejectKind, signaling.RejectParams{Reason: signaling.ReasonNotFound}, r.seq)
		h.dropEmpty(r)
		return
	}
	if h.opts.MaxParticipants > 0 && len(r.members) >= h.opts.MaxParticipants {
		h.reply(outbox, msg, signaling.JoinRejectKind, signaling.RejectParams{Reason: signaling.ReasonSessionFull}, r.seq)
		return
	}

	m := &member{
		participant: params.Participant.Participant(time.Now().UTC()),
		outbox:      outbox,
	}
	r.members[from] = m
	telemetry.RelayMemberJoined()

	r.seq++
	h.reply(outbox, msg, signaling.JoinAckKind, signaling.JoinAckParams{Roster: r.roster()}, r.seq)
	h.broadcast(r, signaling.DeltaParams{Event: signaling.DeltaJoin, Participant: m.participant}, from)

	h.opts.Audit.Record(AuditEntry{Session: r.id, Participant: from, Action: AuditJoin})

	log.Info().Str("service", "relay").Str("session", string(r.id)).Str("participant", string(from)).Msg("participant joined")
}

// leave removes a member; a host leaving on purpose ends the session for everyone
func (h *Hub) leave(r *room, id core.ParticipantID) {
	m, ok := r.members[id]
	if !ok {
		return
	}
	h.remove(r, m, false)
	h.opts.Audit.Record(AuditEntry{Session: r.id, Participant: id, Action: AuditLeave})

	if m.participant.Role.IsHost() && m.outbox != nil {
		h.end(r)
	}
}

func (h *Hub) remove(r *room, m *member, removed bool) {
	id := m.participant.ID
	if m.offline != nil {
		m.offline.Stop()
	}
	delete(r.members, id)
	telemetry.RelayMemberLeft()

	delta := signaling.DeltaParams{
		Event:       signaling.DeltaLeave,
		Participant: core.Participant{ID: id},
		Removed:     removed,
	}
	h.broadcast(r, delta, "")
	if removed && m.outbox != nil {
		h.deliver(m.outbox, h.delta(r, delta))
	}

	h.dropEmpty(r)
}

func (h *Hub) end(r *room) {
	msg, err := signaling.NewMessage(signaling.EndKind, signaling.EndParams{Reason: signaling.ReasonHostLeft})
	if err != nil {
		log.Error().Err(err).Str("service", "relay").Msg("encode end")
		return
	}
	msg.Session = r.id

	for _, m := range r.members {
		if m.offline != nil {
			m.offline.Stop()
		}
		if m.outbox != nil {
			h.deliver(m.outbox, msg)
		}
		telemetry.RelayMemberLeft()
	}
	delete(h.rooms, r.id)

	log.Info().Str("service", "relay").Str("session", string(r.id)).Msg("session ended by host")
}

func (h *Hub) dropEmpty(r *room) {
	if len(r.members) == 0 {
		delete(h.rooms, r.id)
	}
}

func (h *Hub) forward(r *room, msg *signaling.Message) {
	to, ok := r.members[msg.To]
	if !ok || to.outbox == nil {
		log.Debug().Str("service", "relay").Str("to", string(msg.To)).Str("kind", string(msg.Kind)).Msg("drop message for absent participant")
		return
	}
	h.deliver(to.outbox, msg)
}

// mediaState publishes the microphone flag as a muteChanged delta
func (h *Hub) mediaState(r *room, m *member, msg *signaling.Message) {
	params := signaling.MediaStateParams{}
	if err := msg.Decode(&params); err != nil {
		log.Warn().Err(err).Str("service", "relay").Msg("decode media state")
		return
	}

	muted := !params.Audio
	if m.participant.Muted == muted {
		return
	}
	m.participant.Muted = muted

	h.broadcast(r, signaling.DeltaParams{
		Event:       signaling.DeltaMuteChanged,
		Participant: core.Participant{ID: m.participant.ID, Muted: muted},
	}, "")
}

func (h *Hub) moderate(r *room, host *member, msg *signaling.Message) {
	params := signaling.ModerateParams{}
	if err := msg.Decode(&params); err != nil {
		h.reply(host.outbox, msg, signaling.ModerateRejectKind, signaling.RejectParams{Reason: err.Error()}, r.seq)
		return
	}
	if !host.participant.Role.IsHost() {
		h.reply(host.outbox, msg, signaling.ModerateRejectKind, signaling.RejectParams{Reason: signaling.ReasonUnauthorized}, r.seq)
		return
	}
	target, ok := r.members[params.Target]
	if !ok {
		h.reply(host.outbox, msg, signaling.ModerateRejectKind, signaling.RejectParams{Reason: signaling.ReasonNotFound}, r.seq)
		return
	}

	h.reply(host.outbox, msg, signaling.ModerateAckKind, nil, r.seq)

	switch params.Action {
	case signaling.MuteAction:
		target.participant.Muted = true
		h.broadcast(r, signaling.DeltaParams{
			Event:       signaling.DeltaMuteChanged,
			Participant: core.Participant{ID: target.participant.ID, Muted: true},
		}, "")
	case signaling.RemoveAction:
		h.remove(r, target, true)
	}

	h.opts.Audit.Record(AuditEntry{
		Session:     r.id,
		Participant: host.participant.ID,
		Action:      AuditAction(params.Action),
		Target:      params.Target,
	})
}

func (h *Hub) delta(r *room, params signaling.DeltaParams) *signaling.Message {
	msg, err := signaling.NewMessage(signaling.RosterDeltaKind, params)
	if err != nil {
		log.Error().Err(err).Str("service", "relay").Msg("encode delta")
		return nil
	}
	msg.Session = r.id
	msg.Seq = r.seq

	return msg
}

// broadcast sends a roster delta with the next seq to every online member but skip
func (h *Hub) broadcast(r *room, params signaling.DeltaParams, skip core.ParticipantID) {
	r.seq++
	msg := h.delta(r, params)
	if msg == nil {
		return
	}

	for id, m := range r.members {
		if id == skip || m.outbox == nil {
			continue
		}
		h.deliver(m.outbox, msg)
	}
}

func (h *Hub) reply(outbox Outbox, req *signaling.Message, kind signaling.Kind, params interface{}, seq uint64) {
	msg, err := req.Reply(kind, params)
	if err != nil {
		log.Error().Err(err).Str("service", "relay").Str("kind", string(kind)).Msg("encode reply")
		return
	}
	msg.From = ""
	msg.Seq = seq

	h.deliver(outbox, msg)
}

func (h *Hub) deliver(outbox Outbox, msg *signaling.Message) {
	if msg == nil {
		return
	}
	if err := outbox.Deliver(msg); err != nil {
		log.Warn().Err(err).Str("service", "relay").Str("kind", string(msg.Kind)).Msg("deliver message")
	}
}
