package core

import "time"

type (
	SessionID     string
	ParticipantID string
)

// TrackKind is the kind of a local or remote media track
type TrackKind string

const (
	AudioTrack  TrackKind = "audio"
	VideoTrack  TrackKind = "video"
	ScreenTrack TrackKind = "screen"
)

// Identity is the current user as provided by the host application
type Identity struct {
	ID     ParticipantID `json:"id"`
	Name   string        `json:"name"`
	Role   Role          `json:"role"`
	Avatar string        `json:"avatar,omitempty"`
}

// Participant is the published state of a session member.
// The roster owns the authoritative copy, everything else holds values.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
	Role        Role          `json:"role"`
	Muted       bool          `json:"muted"`
	Online      bool          `json:"online"`
	JoinedAt    time.Time     `json:"joined_at"`
	Avatar      string        `json:"avatar,omitempty"`
}

func (i Identity) Participant(joinedAt time.Time) Participant {
	return Participant{
		ID:          i.ID,
		DisplayName: i.Name,
		Role:        i.Role,
		Online:      true,
		JoinedAt:    joinedAt,
		Avatar:      i.Avatar,
	}
}

// MediaState is the local media flags of a participant
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}
