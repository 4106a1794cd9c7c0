package session

import (
	"time"

	"github.com/isqad/livelook-classroom/internal/core"
)

type State string

const (
	Idle         State = "idle"
	Joining      State = "joining"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
	Ended        State = "ended"
	Failed       State = "failed"
)

// Terminal states need a new Session to join again
func (s State) Terminal() bool {
	return s == Ended || s == Failed
}

// Status is the lifecycle state with the reason of the last transition.
// Since of a terminal status is the end of the session.
type Status struct {
	Session   core.SessionID `json:"session"`
	State     State          `json:"state"`
	Reason    core.ErrorKind `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Since     time.Time      `json:"since"`
}

// Duration is the time from creation to the last transition
func (s Status) Duration() time.Duration {
	return s.Since.Sub(s.CreatedAt)
}

// ReasonText is the human readable reason of a failed or ended session
func (s Status) ReasonText() string {
	if s.Reason == "" {
		return ""
	}
	return s.Reason.Message()
}

// Notice is a non-fatal problem worth showing to the user
type Notice struct {
	Kind        core.ErrorKind     `json:"kind"`
	Participant core.ParticipantID `json:"participant,omitempty"`
	// Degraded marks a participant whose media is being renegotiated
	Degraded bool `json:"degraded,omitempty"`
}

func (n Notice) Message() string {
	return n.Kind.Message()
}
