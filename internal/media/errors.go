package media

import "errors"

var (
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrScreenDenied      = errors.New("screen capture denied")
	ErrNoTrackSet        = errors.New("no local tracks acquired")
	ErrUnknownKind       = errors.New("unknown track kind")
	ErrTracksHeld        = errors.New("local tracks already acquired")
)
