package rtc

import (
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
)

type NegotiationState string

const (
	StateNew       NegotiationState = "new"
	StateOffering  NegotiationState = "offering"
	StateAnswering NegotiationState = "answering"
	StateConnected NegotiationState = "connected"
	StateFailed    NegotiationState = "failed"
	StateClosed    NegotiationState = "closed"
)

// RemoteSink is the attach point for a participant's incoming media
type RemoteSink interface {
	WriteRTP(kind core.TrackKind, pkt *rtp.Packet) error
}

// PeerLink is the media connection to one remote participant
type PeerLink struct {
	participant core.ParticipantID
	transport   Transport

	mu       sync.Mutex
	state    NegotiationState
	failures int
	kinds    map[core.TrackKind]*webrtc.TrackRemote
	sink     RemoteSink
}

func newPeerLink(participant core.ParticipantID, transport Transport) *PeerLink {
	return &PeerLink{
		participant: participant,
		transport:   transport,
		state:       StateNew,
		kinds:       make(map[core.TrackKind]*webrtc.TrackRemote),
	}
}

func (l *PeerLink) Participant() core.ParticipantID {
	return l.participant
}

func (l *PeerLink) State() NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Failures counts how many times the connection reached the failed state
func (l *PeerLink) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.failures
}

// Kinds lists the remote track kinds currently received
func (l *PeerLink) Kinds() []core.TrackKind {
	l.mu.Lock()
	defer l.mu.Unlock()

	kinds := make([]core.TrackKind, 0, len(l.kinds))
	for kind := range l.kinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

func (l *PeerLink) offer(iceRestart bool) (webrtc.SessionDescription, error) {
	if l.State() == StateClosed {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}

	offer, err := l.transport.CreateOffer(iceRestart)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.setState(StateOffering)

	return offer, nil
}

func (l *PeerLink) answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if l.State() == StateClosed {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}

	answer, err := l.transport.CreateAnswer(offer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.setState(StateAnswering)

	return answer, nil
}

func (l *PeerLink) acceptAnswer(answer webrtc.SessionDescription) error {
	switch l.State() {
	case StateClosed:
		return ErrLinkClosed
	case StateOffering, StateFailed:
	default:
		return ErrUnexpectedAnswer
	}

	return l.transport.SetRemoteDescription(answer)
}

// setState reports whether the state actually changed. Closed is final.
func (l *PeerLink) setState(state NegotiationState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == state || l.state == StateClosed {
		return false
	}
	if state == StateFailed {
		l.failures++
	}
	l.state = state

	return true
}

func (l *PeerLink) handleConnectionState(state webrtc.PeerConnectionState) (NegotiationState, bool) {
	var next NegotiationState
	switch state {
	case webrtc.PeerConnectionStateConnected:
		next = StateConnected
	case webrtc.PeerConnectionStateFailed:
		next = StateFailed
	case webrtc.PeerConnectionStateClosed:
		next = StateClosed
	default:
		return "", false
	}

	return next, l.setState(next)
}

// Attach routes the RTP of every remote track to sink and asks for a keyframe
func (l *PeerLink) Attach(sink RemoteSink) {
	l.mu.Lock()
	l.sink = sink
	remotes := make([]*webrtc.TrackRemote, 0, len(l.kinds))
	for _, track := range l.kinds {
		remotes = append(remotes, track)
	}
	l.mu.Unlock()

	for _, track := range remotes {
		l.requestKeyframe(track)
	}
}

func (l *PeerLink) requestKeyframe(track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	err := l.transport.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		log.Debug().Err(err).Str("service", "rtc").Str("participant", string(l.participant)).Msg("send pli")
	}
}

func remoteKind(track *webrtc.TrackRemote) core.TrackKind {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return core.AudioTrack
	}
	if track.ID() == string(core.ScreenTrack) {
		return core.ScreenTrack
	}
	return core.VideoTrack
}

// forward pumps RTP of a remote track to the attached sink until the track ends
func (l *PeerLink) forward(track *webrtc.TrackRemote) core.TrackKind {
	kind := remoteKind(track)

	l.mu.Lock()
	l.kinds[kind] = track
	attached := l.sink != nil
	l.mu.Unlock()

	if attached {
		l.requestKeyframe(track)
	}

	go func() {
		defer func() {
			l.mu.Lock()
			if l.kinds[kind] == track {
				delete(l.kinds, kind)
			}
			l.mu.Unlock()
		}()

		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Str("service", "rtc").Str("participant", string(l.participant)).Msg("remote track ended")
				}
				return
			}

			l.mu.Lock()
			sink := l.sink
			l.mu.Unlock()

			if sink == nil {
				continue
			}
			if err := sink.WriteRTP(kind, pkt); err != nil {
				log.Debug().Err(err).Str("service", "rtc").Str("participant", string(l.participant)).Msg("write to sink")
			}
		}
	}()

	return kind
}

func (l *PeerLink) close() error {
	l.setState(StateClosed)

	l.mu.Lock()
	l.sink = nil
	l.mu.Unlock()

	return l.transport.Close()
}
