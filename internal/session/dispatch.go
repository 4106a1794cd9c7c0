package session

import (
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/roster"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

// view is what an inbound handler may look at
type view struct {
	State State
	Self  core.ParticipantID
}

// transition is the outcome of one inbound message. An empty next keeps the state.
type transition struct {
	next    State
	reason  core.ErrorKind
	effects []effect
	err     error
}

// effect is a side effect executed by the loop after a handler returns
type effect interface{ isEffect() }

type replaceRoster struct {
	list []core.Participant
	seq  uint64
}

type applyDelta struct {
	delta roster.Delta
}

type reconcileLinks struct{}

type answerOffer struct {
	from  core.ParticipantID
	offer webrtc.SessionDescription
}

type acceptAnswer struct {
	from   core.ParticipantID
	answer webrtc.SessionDescription
}

type addCandidate struct {
	from      core.ParticipantID
	candidate webrtc.ICECandidateInit
}

type resolveModeration struct {
	msg *signaling.Message
}

type disableLocal struct {
	kind core.TrackKind
}

type resolveJoin struct{}

type sendMediaState struct{}

func (replaceRoster) isEffect()     {}
func (applyDelta) isEffect()        {}
func (reconcileLinks) isEffect()    {}
func (answerOffer) isEffect()       {}
func (acceptAnswer) isEffect()      {}
func (addCandidate) isEffect()      {}
func (resolveModeration) isEffect() {}
func (disableLocal) isEffect()      {}
func (resolveJoin) isEffect()       {}
func (sendMediaState) isEffect()    {}

type handler func(v view, msg *signaling.Message) transition

// dispatch maps every inbound kind to its handler. Kinds only a server
// receives (join, leave, moderate, mediaState) are absent and dropped.
var dispatch = map[signaling.Kind]handler{
	signaling.JoinAckKind:        handleJoinAck,
	signaling.JoinRejectKind:     handleJoinReject,
	signaling.RosterSnapshotKind: handleRosterSnapshot,
	signaling.RosterDeltaKind:    handleRosterDelta,
	signaling.OfferKind:          handleOffer,
	signaling.AnswerKind:         handleAnswer,
	signaling.ICECandidateKind:   handleICECandidate,
	signaling.ModerateAckKind:    handleModerationReply,
	signaling.ModerateRejectKind: handleModerationReply,
	signaling.EndKind:            handleEnd,
}

func joined(s State) bool {
	return s == Connected || s == Reconnecting
}

func negotiating(s State) bool {
	return s == Joining || s == Connected || s == Reconnecting
}

// handleJoinAck completes a join or a rejoin with a full roster
func handleJoinAck(v view, msg *signaling.Message) transition {
	if v.State != Joining && v.State != Reconnecting {
		return transition{}
	}

	params := signaling.JoinAckParams{}
	if err := msg.Decode(&params); err != nil {
		return transition{err: err}
	}

	return transition{
		next: Connected,
		effects: []effect{
			replaceRoster{list: params.Roster, seq: msg.Seq},
			reconcileLinks{},
			resolveJoin{},
			sendMediaState{},
		},
	}
}

func handleJoinReject(v view, msg *signaling.Message) transition {
	if v.State != Joining && v.State != Reconnecting {
		return transition{}
	}
	return transition{next: Failed, reason: core.ErrJoinRejected}
}

// handleRosterSnapshot replaces the roster; during a rejoin it also completes it
func handleRosterSnapshot(v view, msg *signaling.Message) transition {
	if !joined(v.State) {
		return transition{}
	}

	params := signaling.SnapshotParams{}
	if err := msg.Decode(&params); err != nil {
		return transition{err: err}
	}

	tr := transition{
		effects: []effect{
			replaceRoster{list: params.Roster, seq: msg.Seq},
			reconcileLinks{},
		},
	}
	if v.State == Reconnecting {
		tr.next = Connected
		tr.effects = append(tr.effects, sendMediaState{})
	}

	return tr
}

func handleRosterDelta(v view, msg *signaling.Message) transition {
	if !joined(v.State) {
		return transition{}
	}

	delta, err := roster.DeltaFromMessage(msg)
	if err != nil {
		return transition{err: err}
	}

	if delta.Participant.ID == v.Self {
		switch {
		case delta.Event == signaling.DeltaLeave && delta.Removed:
			return transition{next: Ended, reason: core.ErrRemoved}
		case delta.Event == signaling.DeltaMuteChanged && delta.Participant.Muted:
			// a host mute turns the microphone off; unmuting stays with the user
			return transition{effects: []effect{applyDelta{delta: delta}, disableLocal{kind: core.AudioTrack}}}
		}
	}

	return transition{effects: []effect{applyDelta{delta: delta}}}
}

func handleOffer(v view, msg *signaling.Message) transition {
	if !negotiating(v.State) || msg.From == "" || msg.From == v.Self {
		return transition{}
	}

	params := signaling.SDPParams{}
	if err := msg.Decode(&params); err != nil {
		return transition{err: err}
	}

	return transition{effects: []effect{answerOffer{from: msg.From, offer: params.SessionDescription}}}
}

func handleAnswer(v view, msg *signaling.Message) transition {
	if !negotiating(v.State) || msg.From == "" {
		return transition{}
	}

	params := signaling.SDPParams{}
	if err := msg.Decode(&params); err != nil {
		return transition{err: err}
	}

	return transition{effects: []effect{acceptAnswer{from: msg.From, answer: params.SessionDescription}}}
}

func handleICECandidate(v view, msg *signaling.Message) transition {
	if !negotiating(v.State) || msg.From == "" {
		return transition{}
	}

	params := signaling.ICECandidateParams{}
	if err := msg.Decode(&params); err != nil {
		return transition{err: err}
	}

	return transition{effects: []effect{addCandidate{from: msg.From, candidate: params.ICECandidateInit}}}
}

func handleModerationReply(v view, msg *signaling.Message) transition {
	return transition{effects: []effect{resolveModeration{msg: msg}}}
}

// handleEnd is the host closing the session for everyone
func handleEnd(v view, msg *signaling.Message) transition {
	if v.State.Terminal() || v.State == Idle {
		return transition{}
	}
	return transition{next: Ended}
}
