package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/pkg/livesession"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errMissingTarget  = errors.New("command needs a participant id")
)

type command struct {
	name   string
	target core.ParticipantID
}

// parseCommand reads one prompt line like "mute userB"
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}

	cmd := command{name: strings.ToLower(fields[0])}
	switch cmd.name {
	case "audio", "video", "screen", "roster", "stats", "leave", "help":
		return cmd, nil
	case "mute", "remove":
		if len(fields) < 2 {
			return command{}, errMissingTarget
		}
		cmd.target = core.ParticipantID(fields[1])
		return cmd, nil
	default:
		return command{}, fmt.Errorf("%w: %s", errUnknownCommand, fields[0])
	}
}

// packetCounter counts incoming RTP packets per track kind
type packetCounter struct {
	audio *atomic.Uint64
	video *atomic.Uint64
}

func newPacketCounter() *packetCounter {
	return &packetCounter{audio: atomic.NewUint64(0), video: atomic.NewUint64(0)}
}

func (p *packetCounter) WriteRTP(kind core.TrackKind, pkt *rtp.Packet) error {
	if kind == core.AudioTrack {
		p.audio.Inc()
	} else {
		p.video.Inc()
	}
	return nil
}

type client struct {
	session *livesession.Session
	packets *packetCounter
}

func newClient(s *livesession.Session) *client {
	cl := &client{session: s, packets: newPacketCounter()}

	s.OnStateChange(func(status livesession.Status) {
		log.Info().Str("state", string(status.State)).Str("reason", status.ReasonText()).Msg("session state")
	})
	s.OnRosterChange(func(list []livesession.Participant) {
		log.Info().Int("participants", len(list)).Msg("roster changed")
	})
	s.OnNotice(func(n livesession.Notice) {
		log.Warn().Str("kind", string(n.Kind)).Str("participant", string(n.Participant)).Bool("degraded", n.Degraded).Msg(n.Message())
	})
	s.OnRemoteTrack(func(id core.ParticipantID, kind core.TrackKind) {
		log.Info().Str("participant", string(id)).Str("kind", string(kind)).Msg("remote track")
		if err := s.AttachRemote(id, cl.packets); err != nil {
			log.Warn().Err(err).Str("participant", string(id)).Msg("attach remote track")
		}
	})

	return cl
}

// Run joins and serves prompt commands until leave, end of input or the end of the session
func (cl *client) Run(id core.SessionID, in io.Reader) error {
	result := <-cl.session.Join(id)
	if !result.Success {
		return result.Err()
	}
	log.Info().Str("session", string(id)).Int("participants", len(cl.session.Snapshot())).Msg("joined")

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-cl.session.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-cl.session.Leave()
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			cmd, err := parseCommand(line)
			if err != nil {
				log.Warn().Err(err).Msg("type help for the list of commands")
				continue
			}
			if cl.execute(cmd) {
				<-cl.session.Done()
				return nil
			}
		}
	}
}

// execute runs one command and reports whether the client should quit
func (cl *client) execute(cmd command) bool {
	var future <-chan core.Result

	switch cmd.name {
	case "help":
		fmt.Println("audio | video | screen | mute <id> | remove <id> | roster | stats | leave")
		return false
	case "roster":
		for _, p := range cl.session.Snapshot() {
			fmt.Printf("%s\t%s\t%s\tmuted=%t online=%t\n", p.ID, p.DisplayName, p.Role, p.Muted, p.Online)
		}
		return false
	case "stats":
		fmt.Printf("audio packets=%d video packets=%d\n", cl.packets.audio.Load(), cl.packets.video.Load())
		return false
	case "audio":
		future = cl.session.ToggleAudio()
	case "video":
		future = cl.session.ToggleVideo()
	case "screen":
		future = cl.session.ToggleScreenShare()
	case "mute":
		future = cl.session.MuteParticipant(cmd.target)
	case "remove":
		future = cl.session.RemoveParticipant(cmd.target)
	case "leave":
		<-cl.session.Leave()
		return true
	}

	result := <-future
	if !result.Success {
		log.Warn().Str("command", cmd.name).Msg(result.Error.Message())
		return false
	}
	log.Info().Str("command", cmd.name).Interface("result", result.Data).Msg("done")

	return false
}
