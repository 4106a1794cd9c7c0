package signaling

import "errors"

var (
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrMalformedMessage = errors.New("malformed message")
	ErrNotConnected     = errors.New("signaling channel is not connected")
	ErrClosed           = errors.New("signaling connection closed")
	ErrUnknownTransport = errors.New("unknown signaling transport")
)
