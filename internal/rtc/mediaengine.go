package rtc

import (
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-classroom/internal/config"
)

type codecEntry struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

func supportedCodecs(feedback config.RTCPFeedbackConfig) []codecEntry {
	video := func(mime, fmtp string, pt webrtc.PayloadType) codecEntry {
		return codecEntry{
			params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     mime,
					ClockRate:    90000,
					SDPFmtpLine:  fmtp,
					RTCPFeedback: feedback.Video,
				},
				PayloadType: pt,
			},
			kind: webrtc.RTPCodecTypeVideo,
		}
	}

	return []codecEntry{
		{
			params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     webrtc.MimeTypeOpus,
					ClockRate:    48000,
					Channels:     2,
					SDPFmtpLine:  "minptime=10;useinbandfec=1",
					RTCPFeedback: feedback.Audio,
				},
				PayloadType: 111,
			},
			kind: webrtc.RTPCodecTypeAudio,
		},
		video(webrtc.MimeTypeVP8, "", 96),
		video(webrtc.MimeTypeVP9, "profile-id=0", 98),
		video(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", 125),
		video(webrtc.MimeTypeAV1, "", 35),
	}
}

// newMediaEngine registers the configured codecs and header extensions and
// returns the interceptor registry that must accompany it
func newMediaEngine(enabledCodecs []config.CodecSpec, direction config.DirectionConfig) (*webrtc.MediaEngine, *interceptor.Registry, error) {
	me := &webrtc.MediaEngine{}

	for _, codec := range supportedCodecs(direction.RTCPFeedback) {
		if !isCodecEnabled(enabledCodecs, codec.params.RTPCodecCapability) {
			continue
		}
		if err := me.RegisterCodec(codec.params, codec.kind); err != nil {
			return nil, nil, err
		}
	}

	for kind, uris := range map[webrtc.RTPCodecType][]string{
		webrtc.RTPCodecTypeAudio: direction.RTPHeaderExtension.Audio,
		webrtc.RTPCodecTypeVideo: direction.RTPHeaderExtension.Video,
	} {
		for _, uri := range uris {
			if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: uri}, kind); err != nil {
				return nil, nil, err
			}
		}
	}

	// NACKs, RTCP reports and TWCC. One registry per peer connection.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, nil, err
	}

	return me, registry, nil
}

func isCodecEnabled(codecs []config.CodecSpec, cap webrtc.RTPCodecCapability) bool {
	for _, codec := range codecs {
		if !strings.EqualFold(codec.Mime, cap.MimeType) {
			continue
		}
		if codec.FmtpLine == "" || strings.EqualFold(codec.FmtpLine, cap.SDPFmtpLine) {
			return true
		}
	}
	return false
}
