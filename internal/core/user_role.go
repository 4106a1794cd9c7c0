package core

// Role is the role of a participant inside a live session
type Role string

const (
	// RoleHost runs the session and may moderate other participants
	RoleHost Role = "host"
	// RoleAttendee joins the session without moderation rights
	RoleAttendee Role = "attendee"
)

func (r Role) IsHost() bool {
	return r == RoleHost
}

func (r Role) Valid() bool {
	return r == RoleHost || r == RoleAttendee
}
