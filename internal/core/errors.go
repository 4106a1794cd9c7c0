package core

// ErrorKind is a caller-visible failure of a coordinator operation
type ErrorKind string

const (
	ErrDeviceUnavailable ErrorKind = "DeviceUnavailable"
	ErrJoinRejected      ErrorKind = "JoinRejected"
	ErrTimeout           ErrorKind = "Timeout"
	ErrConnectionLost    ErrorKind = "ConnectionLost"
	ErrScreenShareDenied ErrorKind = "ScreenShareDenied"
	ErrUnauthorized      ErrorKind = "Unauthorized"
	ErrNotFound          ErrorKind = "NotFound"
	ErrRequestFailed     ErrorKind = "RequestFailed"
	ErrNegotiationFailed ErrorKind = "NegotiationFailed"
	ErrInvalidState      ErrorKind = "InvalidState"
	ErrCancelled         ErrorKind = "Cancelled"
	ErrRemoved           ErrorKind = "Removed"
)

var errorMessages = map[ErrorKind]string{
	ErrDeviceUnavailable: "camera or microphone is not available",
	ErrJoinRejected:      "the session refused to let you in",
	ErrTimeout:           "the session did not answer in time",
	ErrConnectionLost:    "connection to the session was lost",
	ErrScreenShareDenied: "screen sharing was not allowed",
	ErrUnauthorized:      "only the host can do that",
	ErrNotFound:          "the participant has already left",
	ErrRequestFailed:     "the request could not be completed",
	ErrNegotiationFailed: "media connection to a participant failed",
	ErrInvalidState:      "the operation is not available right now",
	ErrCancelled:         "joining was cancelled",
	ErrRemoved:           "you were removed from the session",
}

func (k ErrorKind) Error() string {
	return string(k)
}

// Message is the human-readable reason shown to the user
func (k ErrorKind) Message() string {
	if msg, ok := errorMessages[k]; ok {
		return msg
	}
	return string(k)
}

// Fatal reports whether the kind ends the session when it happens during a transition
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrDeviceUnavailable, ErrJoinRejected, ErrTimeout, ErrConnectionLost:
		return true
	default:
		return false
	}
}
