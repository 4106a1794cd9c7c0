package signaling

import (
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-classroom/internal/core"
)

type JoinParams struct {
	Participant core.Identity `json:"participant"`
	Rejoin      bool          `json:"rejoin,omitempty"`
}

// JoinAckParams carries the full roster; rejoins are answered the same way
type JoinAckParams struct {
	Roster []core.Participant `json:"roster"`
}

type DeltaEvent string

const (
	DeltaJoin            DeltaEvent = "join"
	DeltaLeave           DeltaEvent = "leave"
	DeltaMuteChanged     DeltaEvent = "muteChanged"
	DeltaPresenceChanged DeltaEvent = "presenceChanged"
)

// DeltaParams is one roster change. Join carries the whole participant,
// the other events only the id and the changed field.
type DeltaParams struct {
	Event       DeltaEvent       `json:"event"`
	Participant core.Participant `json:"participant"`
	Removed     bool             `json:"removed,omitempty"`
}

type SnapshotParams struct {
	Roster []core.Participant `json:"roster"`
}

type SDPParams struct {
	webrtc.SessionDescription
}

type ICECandidateParams struct {
	webrtc.ICECandidateInit
}

type ModerationAction string

const (
	MuteAction   ModerationAction = "mute"
	RemoveAction ModerationAction = "remove"
)

type ModerateParams struct {
	Action ModerationAction   `json:"action"`
	Target core.ParticipantID `json:"target"`
}

// Reject reasons understood by the moderation gateway
const (
	ReasonUnauthorized = "unauthorized"
	ReasonNotFound     = "not_found"
	ReasonSessionFull  = "session_full"
	ReasonHostLeft     = "host_left"
)

type RejectParams struct {
	Reason string `json:"reason"`
}

type MediaStateParams struct {
	core.MediaState
}

type EndParams struct {
	Reason string `json:"reason,omitempty"`
}
