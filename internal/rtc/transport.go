package rtc

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/config"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second // compatible for ice-lite with firefox client
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

// Transport is the peer connection a PeerLink drives
type Transport interface {
	AddTracks(audio, video webrtc.TrackLocal) error
	ReplaceVideo(track webrtc.TrackLocal) error
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	WriteRTCP(pkts []rtcp.Packet) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote))

	Close() error
}

type TransportFactory interface {
	NewTransport() (Transport, error)
}

type TransportParams struct {
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
}

// PionFactory builds pion peer connections from the configuration
type PionFactory struct {
	params TransportParams
}

func NewPionFactory(params TransportParams) *PionFactory {
	return &PionFactory{params: params}
}

func (f *PionFactory) NewTransport() (Transport, error) {
	return NewPCTransport(f.params)
}

// PCTransport keeps remote candidates aside until the remote description is known
type PCTransport struct {
	pc *webrtc.PeerConnection

	lock              sync.Mutex
	pendingCandidates deque.Deque[webrtc.ICECandidateInit]
	videoSender       *webrtc.RTPSender

	allocator *StreamAllocator
}

func NewPCTransport(params TransportParams) (*PCTransport, error) {
	allocator := NewStreamAllocator()

	pc, err := newPeerConnection(params, allocator)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{pc: pc, allocator: allocator}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "rtc").Msg("ice gathering complete")
		}
	})

	return t, nil
}

func newPeerConnection(params TransportParams, allocator *StreamAllocator) (*webrtc.PeerConnection, error) {
	me, registry, err := newMediaEngine(params.EnabledCodecs, params.Config.Publisher)
	if err != nil {
		log.Error().Err(err).Str("service", "rtc").Msg("create media engine")
		return nil, err
	}
	if err := allocator.register(me, registry); err != nil {
		return nil, err
	}

	se := params.Config.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(registry),
	)

	return api.NewPeerConnection(params.Config.Configuration)
}

func (t *PCTransport) AddTracks(audio, video webrtc.TrackLocal) error {
	if audio != nil {
		sender, err := t.pc.AddTrack(audio)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}

	if video != nil {
		sender, err := t.pc.AddTrack(video)
		if err != nil {
			return err
		}
		go drainRTCP(sender)

		t.lock.Lock()
		t.videoSender = sender
		t.lock.Unlock()
	}

	return nil
}

// drainRTCP keeps interceptors (NACK, reports) fed; pion needs sender RTCP read
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, mtu)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *PCTransport) ReplaceVideo(track webrtc.TrackLocal) error {
	t.lock.Lock()
	sender := t.videoSender
	t.lock.Unlock()

	if sender == nil {
		return ErrNoVideoSender
	}

	return sender.ReplaceTrack(track)
}

func (t *PCTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return offer, nil
}

func (t *PCTransport) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return answer, nil
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.pc.RemoteDescription() != nil {
		return t.pc.AddICECandidate(candidate)
	}

	t.pendingCandidates.PushBack(candidate)

	return nil
}

func (t *PCTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	for t.pendingCandidates.Len() > 0 {
		candidate := t.pendingCandidates.PopFront()
		if err := t.pc.AddICECandidate(candidate); err != nil {
			log.Warn().Err(err).Str("service", "rtc").Msg("add pending ice candidate")
		}
	}

	return nil
}

// TargetBitrate is the current send side estimate in bits per second
func (t *PCTransport) TargetBitrate() int {
	return t.allocator.TargetBitrate()
}

func (t *PCTransport) pendingLen() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.pendingCandidates.Len()
}

func (t *PCTransport) WriteRTCP(pkts []rtcp.Packet) error {
	return t.pc.WriteRTCP(pkts)
}

func (t *PCTransport) OnICECandidate(callback func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		callback(c.ToJSON())
	})
}

func (t *PCTransport) OnConnectionStateChange(callback func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(callback)
}

func (t *PCTransport) OnTrack(callback func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		callback(track)
	})
}

func (t *PCTransport) Close() error {
	return t.pc.Close()
}
