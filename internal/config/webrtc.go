package config

import (
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

const (
	frameMarking = "urn:ietf:params:rtp-hdrext:framemarking"
)

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Publisher     DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

func defaultCodecs() []CodecSpec {
	return []CodecSpec{
		{Mime: webrtc.MimeTypeOpus},
		{Mime: webrtc.MimeTypeVP8},
	}
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	if len(config.RTC.ICEServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: config.RTC.ICEServers}}
	}

	s := webrtc.SettingEngine{}

	networkTypes := []webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	}
	if config.RTC.ICEPortRangeStart > 0 && config.RTC.ICEPortRangeEnd > config.RTC.ICEPortRangeStart {
		if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
			return nil, err
		}
	}
	s.SetNetworkTypes(networkTypes)

	// every link publishes audio plus one video track (camera or screen)
	publisherConfig := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Audio: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.AudioLevelURI,
			},
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
				frameMarking,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		Publisher:     publisherConfig,
	}, nil
}
