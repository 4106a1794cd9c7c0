package session

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/media"
	"github.com/isqad/livelook-classroom/internal/rtc"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

var errDialRefused = errors.New("dial refused")

// MockSource hands out silent tracks. With hold set UserMedia waits for it
// or for the context, like a permission prompt nobody answers.
type MockSource struct {
	userErr   error
	screenErr error
	hold      chan struct{}

	mu      sync.Mutex
	waiting bool
	audio   *media.Track
	video   *media.Track
	screens []*media.Track
}

func (s *MockSource) UserMedia(ctx context.Context) (*media.Track, *media.Track, error) {
	if s.hold != nil {
		s.mu.Lock()
		s.waiting = true
		s.mu.Unlock()

		select {
		case <-s.hold:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if s.userErr != nil {
		return nil, nil, s.userErr
	}

	audio, err := media.NewTrack(core.AudioTrack)
	if err != nil {
		return nil, nil, err
	}
	video, err := media.NewTrack(core.VideoTrack)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.audio, s.video = audio, video
	s.mu.Unlock()

	return audio, video, nil
}

func (s *MockSource) DisplayMedia(ctx context.Context) (*media.Track, error) {
	if s.screenErr != nil {
		return nil, s.screenErr
	}

	screen, err := media.NewTrack(core.ScreenTrack)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.screens = append(s.screens, screen)
	s.mu.Unlock()

	return screen, nil
}

func (s *MockSource) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.waiting
}

func (s *MockSource) Camera() *media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.video
}

func (s *MockSource) Screen(i int) *media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i >= len(s.screens) {
		return nil
	}
	return s.screens[i]
}

// MockDialer connects over in-process pipes and hands the server ends to the test
type MockDialer struct {
	servers chan *signaling.PipeConn

	mu       sync.Mutex
	dials    int
	failures int
	err      error
}

func NewMockDialer() *MockDialer {
	return &MockDialer{servers: make(chan *signaling.PipeConn, 8)}
}

func (d *MockDialer) Dial(ctx context.Context, session core.SessionID, self core.ParticipantID) (signaling.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if d.failures > 0 {
		d.failures--
		return nil, errDialRefused
	}

	client, server := signaling.NewPipe()
	d.servers <- server

	return client, nil
}

func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *MockDialer) Fail(err error, failures int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.err = err
	d.failures = failures
}

type MockTransport struct {
	mu sync.Mutex

	video       webrtc.TrackLocal
	offers      []bool
	answers     int
	candidates  int
	closed      bool
	onState     func(webrtc.PeerConnectionState)
	onCandidate func(webrtc.ICECandidateInit)
}

func (t *MockTransport) AddTracks(audio, video webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.video = video
	return nil
}

func (t *MockTransport) ReplaceVideo(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.video = track
	return nil
}

func (t *MockTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.offers = append(t.offers, iceRestart)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (t *MockTransport) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (t *MockTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return nil
}

func (t *MockTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.candidates++
	return nil
}

func (t *MockTransport) WriteRTCP(pkts []rtcp.Packet) error {
	return nil
}

func (t *MockTransport) OnICECandidate(callback func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onCandidate = callback
}

func (t *MockTransport) OnConnectionStateChange(callback func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onState = callback
}

func (t *MockTransport) OnTrack(func(*webrtc.TrackRemote)) {}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}

func (t *MockTransport) Video() webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.video
}

func (t *MockTransport) Offers() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]bool(nil), t.offers...)
}

func (t *MockTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// SetState plays a pion connection state change
func (t *MockTransport) SetState(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	onState := t.onState
	t.mu.Unlock()

	onState(state)
}

func (t *MockTransport) Gather(candidate string) {
	t.mu.Lock()
	onCandidate := t.onCandidate
	t.mu.Unlock()

	onCandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

type MockFactory struct {
	mu         sync.Mutex
	transports []*MockTransport
}

func (f *MockFactory) NewTransport() (rtc.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &MockTransport{}
	f.transports = append(f.transports, t)

	return t, nil
}

func (f *MockFactory) Created() []*MockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*MockTransport(nil), f.transports...)
}
