package rtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-classroom/internal/config"
)

func newTestTransport(t *testing.T) *PCTransport {
	t.Helper()

	conf := config.NewConfig()
	conf.RTC.ICEServers = nil

	rtcConf, err := config.NewWebRTCConfig(conf)
	require.NoError(t, err)

	transport, err := NewPCTransport(TransportParams{
		EnabledCodecs: conf.Peer.EnabledCodecs,
		Config:        rtcConf,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	return transport
}

func TestPendingCandidatesFlushedOnRemoteDescription(t *testing.T) {
	offerer := newTestTransport(t)
	answerer := newTestTransport(t)

	require.NoError(t, offerer.AddTracks(nil, newTestTrack(t, "video")))

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"}
	require.NoError(t, answerer.AddICECandidate(candidate))
	assert.Equal(t, 1, answerer.pendingLen())

	offer, err := offerer.CreateOffer(false)
	require.NoError(t, err)

	answer, err := answerer.CreateAnswer(offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Equal(t, 0, answerer.pendingLen())

	require.NoError(t, offerer.SetRemoteDescription(answer))
}

func TestReplaceVideoWithoutSender(t *testing.T) {
	transport := newTestTransport(t)

	assert.ErrorIs(t, transport.ReplaceVideo(newTestTrack(t, "screen")), ErrNoVideoSender)
}

func TestStreamAllocatorInitialBitrate(t *testing.T) {
	transport := newTestTransport(t)

	assert.Equal(t, initialBitrate, transport.TargetBitrate())
}

func TestIsCodecEnabled(t *testing.T) {
	vp8 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	vp9 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, SDPFmtpLine: "profile-id=0"}

	enabled := []config.CodecSpec{{Mime: "video/vp8"}, {Mime: webrtc.MimeTypeVP9, FmtpLine: "profile-id=1"}}

	assert.True(t, isCodecEnabled(enabled, vp8))
	assert.False(t, isCodecEnabled(enabled, vp9))
}
