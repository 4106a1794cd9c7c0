package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/atomic"

	"github.com/isqad/livelook-classroom/internal/core"
)

const streamID = "livelook"

// Track is one local media track. It is replaced, never re-pointed, when the source changes.
type Track struct {
	kind    core.TrackKind
	local   *webrtc.TrackLocalStaticSample
	enabled *atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	ended   chan struct{}
	endOnce sync.Once
}

func NewTrack(kind core.TrackKind) (*Track, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case core.AudioTrack:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case core.VideoTrack, core.ScreenTrack:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, ErrUnknownKind
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, string(kind), streamID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Track{
		kind:    kind,
		local:   local,
		enabled: atomic.NewBool(true),
		ctx:     ctx,
		cancel:  cancel,
		ended:   make(chan struct{}),
	}, nil
}

func (t *Track) Kind() core.TrackKind { return t.kind }

func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Toggle flips the enabled flag and returns the new value
func (t *Track) Toggle() bool {
	return !t.enabled.Toggle()
}

// WriteSample drops samples while the track is disabled
func (t *Track) WriteSample(sample pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(sample)
}

// Ended is closed when the capture is ended outside of the application,
// e.g. the OS "stop sharing" button
func (t *Track) Ended() <-chan struct{} { return t.ended }

// Done is closed once the track has been stopped locally
func (t *Track) Done() <-chan struct{} { return t.ctx.Done() }

// End reports an externally triggered end of capture
func (t *Track) End() {
	t.endOnce.Do(func() { close(t.ended) })
}

func (t *Track) Stop() {
	t.cancel()
}

func (t *Track) Stopped() bool {
	return t.ctx.Err() != nil
}
