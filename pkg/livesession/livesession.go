// Package livesession builds a live session coordinator for one user from
// configuration. It is the only package meant to be imported by host
// applications.
package livesession

import (
	"errors"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/media"
	"github.com/isqad/livelook-classroom/internal/moderation"
	"github.com/isqad/livelook-classroom/internal/roster"
	"github.com/isqad/livelook-classroom/internal/rtc"
	"github.com/isqad/livelook-classroom/internal/session"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

type (
	Session     = session.Session
	Status      = session.Status
	State       = session.State
	Notice      = session.Notice
	Identity    = core.Identity
	Participant = core.Participant
	Result      = core.Result
	ErrorKind   = core.ErrorKind
	Config      = config.Config
)

const (
	Idle         = session.Idle
	Joining      = session.Joining
	Connected    = session.Connected
	Reconnecting = session.Reconnecting
	Ended        = session.Ended
	Failed       = session.Failed
)

var (
	ErrNoConfig = errors.New("livesession: config is required")
	ErrIdentity = errors.New("livesession: identity needs an id and a valid role")
)

// Options overrides the components picked from Config
type Options struct {
	Config   *Config
	Identity Identity

	// Source defaults to the IVF files of Config.Media
	Source media.Source
	// Dialer defaults to the transport of Config.Signaling
	Dialer signaling.Dialer
	// Transports defaults to pion peer connections
	Transports rtc.TransportFactory
}

// New wires a coordinator. The returned session is idle.
func New(opts Options) (*Session, error) {
	conf := opts.Config
	if conf == nil {
		return nil, ErrNoConfig
	}
	if opts.Identity.ID == "" || !opts.Identity.Role.Valid() {
		return nil, ErrIdentity
	}

	source := opts.Source
	if source == nil {
		source = &media.FileSource{VideoFile: conf.Media.VideoFile, ScreenFile: conf.Media.ScreenFile}
	}

	dialer := opts.Dialer
	if dialer == nil {
		var err error
		if dialer, err = signaling.NewDialer(conf.Signaling); err != nil {
			return nil, err
		}
	}

	transports := opts.Transports
	if transports == nil {
		webrtcConf, err := config.NewWebRTCConfig(conf)
		if err != nil {
			return nil, err
		}
		transports = rtc.NewPionFactory(rtc.TransportParams{
			EnabledCodecs: conf.Peer.EnabledCodecs,
			Config:        webrtcConf,
		})
	}

	members := roster.New()
	channel := signaling.NewChannel(opts.Identity.ID)

	return session.New(opts.Identity, conf.Session, session.Deps{
		Dialer:     dialer,
		Media:      media.NewManager(source),
		Pool:       rtc.NewPool(transports),
		Roster:     members,
		Channel:    channel,
		Moderation: moderation.NewGateway(opts.Identity, channel, members, conf.Session.ModerationTimeout),
	}), nil
}
