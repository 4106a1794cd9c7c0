package rtc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/telemetry"
)

// Pool owns one PeerLink per remote participant. Callbacks fire on pion
// goroutines and must not call back into the pool synchronously.
type Pool struct {
	factory TransportFactory

	mu    sync.RWMutex
	links map[core.ParticipantID]*PeerLink
	audio webrtc.TrackLocal
	video webrtc.TrackLocal

	onICECandidate func(core.ParticipantID, webrtc.ICECandidateInit)
	onLinkState    func(core.ParticipantID, NegotiationState)
	onRemoteTrack  func(core.ParticipantID, core.TrackKind)
}

func NewPool(factory TransportFactory) *Pool {
	return &Pool{
		factory:        factory,
		links:          make(map[core.ParticipantID]*PeerLink),
		onICECandidate: func(core.ParticipantID, webrtc.ICECandidateInit) {},
		onLinkState:    func(core.ParticipantID, NegotiationState) {},
		onRemoteTrack:  func(core.ParticipantID, core.TrackKind) {},
	}
}

func (p *Pool) OnICECandidate(callback func(core.ParticipantID, webrtc.ICECandidateInit)) {
	p.onICECandidate = callback
}

func (p *Pool) OnLinkState(callback func(core.ParticipantID, NegotiationState)) {
	p.onLinkState = callback
}

func (p *Pool) OnRemoteTrack(callback func(core.ParticipantID, core.TrackKind)) {
	p.onRemoteTrack = callback
}

// SetOutbound sets the local tracks published on links created from now on
func (p *Pool) SetOutbound(audio, video webrtc.TrackLocal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.audio = audio
	p.video = video
}

// EnsureLink creates the link if absent. created is false when it already existed.
func (p *Pool) EnsureLink(id core.ParticipantID) (link *PeerLink, created bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if link, ok := p.links[id]; ok {
		return link, false, nil
	}

	transport, err := p.factory.NewTransport()
	if err != nil {
		return nil, false, err
	}
	if err := transport.AddTracks(p.audio, p.video); err != nil {
		_ = transport.Close()
		return nil, false, err
	}

	link = newPeerLink(id, transport)

	transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		p.onICECandidate(id, candidate)
	})
	transport.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if next, changed := link.handleConnectionState(state); changed {
			p.onLinkState(id, next)
		}
	})
	transport.OnTrack(func(track *webrtc.TrackRemote) {
		p.onRemoteTrack(id, link.forward(track))
	})

	p.links[id] = link
	telemetry.PeerLinkOpened()

	log.Debug().Str("service", "pool").Str("participant", string(id)).Msg("link created")

	return link, true, nil
}

// CloseLink is a no-op for unknown or already closed participants
func (p *Pool) CloseLink(id core.ParticipantID) {
	p.mu.Lock()
	link, ok := p.links[id]
	delete(p.links, id)
	p.mu.Unlock()

	if !ok {
		return
	}
	closeLink(link)
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	links := p.links
	p.links = make(map[core.ParticipantID]*PeerLink)
	p.audio, p.video = nil, nil
	p.mu.Unlock()

	for _, link := range links {
		closeLink(link)
	}
}

func closeLink(link *PeerLink) {
	if err := link.close(); err != nil {
		log.Warn().Err(err).Str("service", "pool").Str("participant", string(link.participant)).Msg("close link")
	}
	telemetry.PeerLinkClosed()

	log.Debug().Str("service", "pool").Str("participant", string(link.participant)).Msg("link closed")
}

func (p *Pool) Link(id core.ParticipantID) (*PeerLink, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	link, ok := p.links[id]
	return link, ok
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.links)
}

// Participants returns the ids with a link, sorted
func (p *Pool) Participants() []core.ParticipantID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]core.ParticipantID, 0, len(p.links))
	for id := range p.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// ReplaceOutboundVideo swaps the video track on every link. If any link
// refuses, links already switched are put back on the previous track.
func (p *Pool) ReplaceOutboundVideo(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.video

	var (
		mu       sync.Mutex
		switched []*PeerLink
	)

	g := new(errgroup.Group)
	for _, link := range p.links {
		link := link
		if link.State() == StateClosed {
			continue
		}
		g.Go(func() error {
			if err := link.transport.ReplaceVideo(track); err != nil {
				return fmt.Errorf("replace video for %s: %w", link.participant, err)
			}
			mu.Lock()
			switched = append(switched, link)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, link := range switched {
			if rerr := link.transport.ReplaceVideo(prev); rerr != nil {
				log.Error().Err(rerr).Str("service", "pool").Str("participant", string(link.participant)).Msg("roll back video track")
			}
		}
		return err
	}

	p.video = track

	return nil
}

// Offer starts (or with iceRestart restarts) negotiation towards id
func (p *Pool) Offer(id core.ParticipantID, iceRestart bool) (webrtc.SessionDescription, error) {
	link, ok := p.Link(id)
	if !ok {
		return webrtc.SessionDescription{}, ErrLinkNotFound
	}
	return link.offer(iceRestart)
}

// HandleOffer answers a remote offer, creating the link when the offer
// arrives before the roster announced the participant
func (p *Pool) HandleOffer(id core.ParticipantID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	link, _, err := p.EnsureLink(id)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return link.answer(offer)
}

func (p *Pool) HandleAnswer(id core.ParticipantID, answer webrtc.SessionDescription) error {
	link, ok := p.Link(id)
	if !ok {
		return ErrLinkNotFound
	}
	return link.acceptAnswer(answer)
}

func (p *Pool) AddICECandidate(id core.ParticipantID, candidate webrtc.ICECandidateInit) error {
	link, ok := p.Link(id)
	if !ok {
		return ErrLinkNotFound
	}
	return link.transport.AddICECandidate(candidate)
}

// Attach is the attach point for the remote tracks of id
func (p *Pool) Attach(id core.ParticipantID, sink RemoteSink) error {
	link, ok := p.Link(id)
	if !ok {
		return ErrLinkNotFound
	}
	link.Attach(sink)

	return nil
}
