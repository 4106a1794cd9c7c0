package rtc

import "errors"

var (
	ErrLinkNotFound     = errors.New("peer link not found")
	ErrLinkClosed       = errors.New("peer link closed")
	ErrNoVideoSender    = errors.New("peer connection has no video sender")
	ErrUnexpectedAnswer = errors.New("answer without a pending offer")
)
