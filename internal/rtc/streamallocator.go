package rtc

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/cc"
	"github.com/pion/interceptor/pkg/gcc"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

const initialBitrate = 1_000_000

// StreamAllocator follows the send side bandwidth estimate of one peer connection
type StreamAllocator struct {
	mu     sync.Mutex
	bwe    cc.BandwidthEstimator
	target int
}

func NewStreamAllocator() *StreamAllocator {
	return &StreamAllocator{target: initialBitrate}
}

// register adds the congestion controller to registry; the estimator is handed
// over once the peer connection is built
func (s *StreamAllocator) register(me *webrtc.MediaEngine, registry *interceptor.Registry) error {
	congestionController, err := cc.NewInterceptor(func() (cc.BandwidthEstimator, error) {
		return gcc.NewSendSideBWE(gcc.SendSideBWEInitialBitrate(initialBitrate))
	})
	if err != nil {
		return err
	}
	congestionController.OnNewPeerConnection(func(_ string, estimator cc.BandwidthEstimator) {
		s.SetBandwidthEstimator(estimator)
	})
	registry.Add(congestionController)

	return webrtc.ConfigureTWCCHeaderExtensionSender(me, registry)
}

func (s *StreamAllocator) SetBandwidthEstimator(bwe cc.BandwidthEstimator) {
	if bwe != nil {
		bwe.OnTargetBitrateChange(s.onTargetBitrateChange)
	}

	s.mu.Lock()
	s.bwe = bwe
	s.mu.Unlock()
}

func (s *StreamAllocator) TargetBitrate() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.target
}

// called when target bitrate changes (send side bandwidth estimation)
func (s *StreamAllocator) onTargetBitrateChange(bitrate int) {
	s.mu.Lock()
	s.target = bitrate
	s.mu.Unlock()

	log.Debug().Str("service", "rtc").Int("bitrate", bitrate).Msg("target bitrate changed")
}
