// Package session is the coordinator of one live session: a single event
// loop that owns the lifecycle state and drives media, signaling, the peer
// connection pool, the roster and moderation.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/media"
	"github.com/isqad/livelook-classroom/internal/moderation"
	"github.com/isqad/livelook-classroom/internal/roster"
	"github.com/isqad/livelook-classroom/internal/rtc"
	"github.com/isqad/livelook-classroom/internal/signaling"
	"github.com/isqad/livelook-classroom/internal/telemetry"
)

// Deps are the components a Session drives. Channel must be created for the
// same identity and Moderation must send through Channel.
type Deps struct {
	Dialer     signaling.Dialer
	Media      *media.Manager
	Pool       *rtc.Pool
	Roster     *roster.Roster
	Channel    *signaling.Channel
	Moderation *moderation.Gateway
}

type Session struct {
	identity core.Identity
	conf     config.SessionConfig

	dialer     signaling.Dialer
	media      *media.Manager
	pool       *rtc.Pool
	roster     *roster.Roster
	channel    *signaling.Channel
	moderation *moderation.Gateway

	events *mailbox
	done   chan struct{}

	// cancelled when the session reaches a terminal state
	ctx    context.Context
	cancel context.CancelFunc

	statusMu sync.RWMutex
	status   Status

	// owned by the loop goroutine
	id            core.SessionID
	conn          signaling.Conn
	acquiring     bool
	started       bool
	joinFuture    chan core.Result
	deferred      []chan core.Result
	screenPending bool
	// dials spent since the last acknowledged join
	redials       int
	timer         *time.Timer
	timerGen      uint64

	onStateChange  func(Status)
	onRosterChange func([]core.Participant)
	onNotice       func(Notice)
	onRemoteTrack  func(core.ParticipantID, core.TrackKind)
}

// New starts the event loop of an idle session
func New(identity core.Identity, conf config.SessionConfig, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	s := &Session{
		identity:       identity,
		conf:           conf,
		dialer:         deps.Dialer,
		media:          deps.Media,
		pool:           deps.Pool,
		roster:         deps.Roster,
		channel:        deps.Channel,
		moderation:     deps.Moderation,
		events:         newMailbox(),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		status:         Status{State: Idle, CreatedAt: now, Since: now},
		onStateChange:  func(Status) {},
		onRosterChange: func([]core.Participant) {},
		onNotice:       func(Notice) {},
		onRemoteTrack:  func(core.ParticipantID, core.TrackKind) {},
	}

	s.pool.OnICECandidate(func(id core.ParticipantID, candidate webrtc.ICECandidateInit) {
		s.events.post(func() {
			s.sendTo(id, signaling.ICECandidateKind, signaling.ICECandidateParams{ICECandidateInit: candidate})
		})
	})
	s.pool.OnLinkState(func(id core.ParticipantID, state rtc.NegotiationState) {
		s.events.post(func() { s.linkState(id, state) })
	})
	s.pool.OnRemoteTrack(func(id core.ParticipantID, kind core.TrackKind) {
		s.events.post(func() { s.onRemoteTrack(id, kind) })
	})

	go s.run()

	return s
}

// OnStateChange and the other callbacks run on the event loop. They may call
// any Session method but must not wait on the returned futures.
func (s *Session) OnStateChange(callback func(Status)) {
	s.events.post(func() { s.onStateChange = callback })
}

func (s *Session) OnRosterChange(callback func([]core.Participant)) {
	s.events.post(func() { s.onRosterChange = callback })
}

func (s *Session) OnNotice(callback func(Notice)) {
	s.events.post(func() { s.onNotice = callback })
}

func (s *Session) OnRemoteTrack(callback func(core.ParticipantID, core.TrackKind)) {
	s.events.post(func() { s.onRemoteTrack = callback })
}

func (s *Session) run() {
	defer close(s.done)

	for range s.events.notify {
		for {
			ev, ok := s.events.pop()
			if !ok {
				break
			}
			ev()
		}

		if s.current().Terminal() && !s.acquiring {
			for _, ev := range s.events.close() {
				ev()
			}
			log.Debug().Str("service", "session").Str("session", string(s.id)).Msg("event loop stopped")
			return
		}
	}
}

// Done is closed once the session is terminal and every resource is released
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// submit queues a command; it resolves InvalidState once the loop is gone
func (s *Session) submit(command func(future chan core.Result)) <-chan core.Result {
	future := make(chan core.Result, 1)
	if !s.events.post(func() { command(future) }) {
		future <- core.Fail(core.ErrInvalidState)
	}
	return future
}

// Join acquires local media, connects to the session and resolves with the
// roster snapshot once the server acknowledged the join
func (s *Session) Join(id core.SessionID) <-chan core.Result {
	return s.submit(func(future chan core.Result) { s.join(id, future) })
}

// Leave is valid from every non-terminal state, a join in flight included
func (s *Session) Leave() <-chan core.Result {
	return s.submit(s.leave)
}

func (s *Session) ToggleAudio() <-chan core.Result {
	return s.submit(func(future chan core.Result) { s.toggle(core.AudioTrack, future) })
}

func (s *Session) ToggleVideo() <-chan core.Result {
	return s.submit(func(future chan core.Result) { s.toggle(core.VideoTrack, future) })
}

// ToggleScreenShare resolves with true when sharing started and false when it stopped
func (s *Session) ToggleScreenShare() <-chan core.Result {
	return s.submit(s.toggleScreen)
}

func (s *Session) MuteParticipant(id core.ParticipantID) <-chan core.Result {
	return s.moderate(func(ctx context.Context) core.Result {
		return s.moderation.MuteParticipant(ctx, id)
	})
}

func (s *Session) RemoveParticipant(id core.ParticipantID) <-chan core.Result {
	return s.moderate(func(ctx context.Context) core.Result {
		return s.moderation.RemoveParticipant(ctx, id)
	})
}

// moderation waits on a server round trip, so it runs beside the loop
func (s *Session) moderate(call func(ctx context.Context) core.Result) <-chan core.Result {
	future := make(chan core.Result, 1)
	go func() {
		future <- call(s.ctx)
	}()
	return future
}

func (s *Session) State() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return s.status
}

func (s *Session) current() State {
	return s.State().State
}

// Snapshot reads the roster directly and never waits for the loop
func (s *Session) Snapshot() []core.Participant {
	return s.roster.Snapshot()
}

func (s *Session) LocalTracks() []*media.Track {
	return s.media.Tracks()
}

func (s *Session) AttachRemote(id core.ParticipantID, sink rtc.RemoteSink) error {
	return s.pool.Attach(id, sink)
}

func (s *Session) setState(state State, reason core.ErrorKind) {
	s.statusMu.Lock()
	if s.status.State == state && s.status.Reason == reason {
		s.statusMu.Unlock()
		return
	}
	s.status = Status{Session: s.id, State: state, Reason: reason, CreatedAt: s.status.CreatedAt, Since: time.Now()}
	status := s.status
	s.statusMu.Unlock()

	telemetry.SessionTransitions.WithLabelValues(string(state), string(reason)).Inc()
	log.Info().
		Str("service", "session").
		Str("session", string(s.id)).
		Str("state", string(state)).
		Str("reason", string(reason)).
		Msg("state changed")

	s.onStateChange(status)
}

func (s *Session) join(id core.SessionID, future chan core.Result) {
	if s.current() != Idle || s.acquiring || id == "" {
		future <- core.Fail(core.ErrInvalidState)
		return
	}

	s.id = id
	s.joinFuture = future
	s.acquiring = true

	ctx := s.ctx
	go func() {
		audio, video, err := s.media.Open(ctx)
		if !s.events.post(func() { s.acquired(audio, video, err) }) && err == nil {
			audio.Stop()
			video.Stop()
		}
	}()
}

func (s *Session) acquired(audio, video *media.Track, err error) {
	s.acquiring = false

	if s.current().Terminal() {
		if err == nil {
			audio.Stop()
			video.Stop()
		}
		for _, future := range s.deferred {
			future <- core.Ok(nil)
		}
		s.deferred = nil
		return
	}

	if err != nil {
		s.finish(Failed, core.ErrDeviceUnavailable, false)
		return
	}
	if err := s.media.Install(audio, video); err != nil {
		log.Error().Err(err).Str("service", "session").Msg("install local tracks")
		s.finish(Failed, core.ErrDeviceUnavailable, false)
		return
	}
	s.pool.SetOutbound(audio.Local(), video.Local())

	s.started = true
	telemetry.SessionStarted()

	s.setState(Joining, "")
	s.startTimer()
	s.dial()
}

func (s *Session) dial() {
	ctx := s.ctx
	id := s.id
	go func() {
		conn, err := s.dialer.Dial(ctx, id, s.identity.ID)
		if !s.events.post(func() { s.dialed(conn, err) }) && err == nil {
			closeConn(conn)
		}
	}()
}

func (s *Session) dialed(conn signaling.Conn, err error) {
	if s.current() != Joining {
		if err == nil {
			closeConn(conn)
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("service", "session").Str("session", string(s.id)).Msg("dial signaling")
		s.finish(Failed, core.ErrConnectionLost, false)
		return
	}

	s.attach(conn)
	s.sendJoin(false)
}

func (s *Session) reconnect() {
	ctx := s.ctx
	id := s.id
	used := s.redials
	go func() {
		conn, n, err := redial(ctx, s.dialer, id, s.identity.ID, s.conf, used)
		if !s.events.post(func() { s.reconnected(conn, n, err) }) && err == nil {
			closeConn(conn)
		}
	}()
}

func (s *Session) reconnected(conn signaling.Conn, dials int, err error) {
	s.redials += dials
	if s.current() != Reconnecting {
		if err == nil {
			closeConn(conn)
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("service", "session").Str("session", string(s.id)).Msg("reconnect attempts exhausted")
		s.finish(Failed, core.ErrConnectionLost, false)
		return
	}

	s.attach(conn)
	s.sendJoin(true)
	s.startTimer()
}

// retryReconnect gives up a rejoin that was not acknowledged and dials again
// while the budget lasts
func (s *Session) retryReconnect() {
	s.stopTimer()
	if conn := s.conn; conn != nil {
		s.conn = nil
		s.channel.Detach(conn)
		closeConn(conn)
	}

	if s.redials >= reconnectBudget(s.conf) {
		log.Warn().Str("service", "session").Str("session", string(s.id)).Int("attempts", s.redials).Msg("reconnect attempts exhausted")
		s.finish(Failed, core.ErrConnectionLost, false)
		return
	}
	s.reconnect()
}

// attach makes conn the current connection and pumps its messages into the loop
func (s *Session) attach(conn signaling.Conn) {
	s.conn = conn
	s.channel.Attach(s.id, conn)

	go func() {
		for msg := range conn.Messages() {
			msg := msg
			if !s.events.post(func() { s.inbound(conn, msg) }) {
				return
			}
		}
		s.events.post(func() { s.dropped(conn, conn.Err()) })
	}()
}

func (s *Session) dropped(conn signaling.Conn, err error) {
	if conn != s.conn {
		return
	}
	s.conn = nil
	s.channel.Detach(conn)
	closeConn(conn)

	log.Warn().Err(err).Str("service", "session").Str("session", string(s.id)).Msg("signaling connection lost")

	switch s.current() {
	case Connected:
		s.redials = 0
		s.setState(Reconnecting, core.ErrConnectionLost)
		s.reconnect()
	case Reconnecting:
		s.retryReconnect()
	case Joining:
		s.finish(Failed, core.ErrConnectionLost, false)
	}
}

func (s *Session) inbound(conn signaling.Conn, msg *signaling.Message) {
	if conn != s.conn {
		return
	}
	telemetry.SignalingMessages.WithLabelValues("in", string(msg.Kind)).Inc()

	handle, ok := dispatch[msg.Kind]
	if !ok {
		log.Debug().Str("service", "session").Str("kind", string(msg.Kind)).Msg("drop unexpected message")
		return
	}

	tr := handle(view{State: s.current(), Self: s.identity.ID}, msg)
	if tr.err != nil {
		log.Warn().Err(tr.err).Str("service", "session").Str("kind", string(msg.Kind)).Msg("handle message")
		return
	}

	if tr.next.Terminal() {
		s.finish(tr.next, tr.reason, false)
		return
	}
	if tr.next != "" && tr.next != s.current() {
		if tr.next == Connected {
			s.stopTimer()
		}
		s.setState(tr.next, tr.reason)
	}

	for _, eff := range tr.effects {
		s.execute(eff)
	}
}

func (s *Session) execute(eff effect) {
	switch e := eff.(type) {
	case replaceRoster:
		s.roster.Replace(e.list, e.seq)
		s.onRosterChange(s.roster.Snapshot())
	case applyDelta:
		changed, err := s.roster.Apply(e.delta)
		if err != nil {
			log.Warn().Err(err).Str("service", "session").Msg("apply roster delta")
			return
		}
		if changed {
			s.onRosterChange(s.roster.Snapshot())
		}
		s.syncLink(e.delta.Participant.ID)
	case reconcileLinks:
		s.reconcileLinks()
	case answerOffer:
		if s.departed(e.from) {
			return
		}
		answer, err := s.pool.HandleOffer(e.from, e.offer)
		if err != nil {
			s.negotiationFailed(e.from, err)
			return
		}
		s.sendTo(e.from, signaling.AnswerKind, signaling.SDPParams{SessionDescription: answer})
	case acceptAnswer:
		if s.departed(e.from) {
			return
		}
		if err := s.pool.HandleAnswer(e.from, e.answer); err != nil {
			s.negotiationFailed(e.from, err)
		}
	case addCandidate:
		if s.departed(e.from) {
			return
		}
		if err := s.pool.AddICECandidate(e.from, e.candidate); err != nil {
			log.Debug().Err(err).Str("service", "session").Str("participant", string(e.from)).Msg("add ice candidate")
		}
	case resolveModeration:
		if !s.moderation.Handle(e.msg) {
			log.Debug().Str("service", "session").Str("request", e.msg.RequestID).Msg("moderation reply without request")
		}
	case disableLocal:
		s.media.Disable(e.kind)
		s.sendMediaState()
	case resolveJoin:
		if s.joinFuture != nil {
			s.joinFuture <- core.Ok(s.roster.Snapshot())
			s.joinFuture = nil
		}
	case sendMediaState:
		s.sendMediaState()
	}
}

// departed drops signaling from a participant that already left. Offers from
// someone whose join delta has not arrived yet still go through.
func (s *Session) departed(id core.ParticipantID) bool {
	if !s.roster.Departed(id) {
		return false
	}
	log.Debug().Str("service", "session").Str("participant", string(id)).Msg("drop signaling from departed participant")
	return true
}

// syncLink keeps exactly one link for every roster member but us.
// The member whose id sorts lower makes the offer.
func (s *Session) syncLink(id core.ParticipantID) {
	if id == s.identity.ID {
		return
	}
	if !s.roster.Contains(id) {
		s.pool.CloseLink(id)
		return
	}

	_, created, err := s.pool.EnsureLink(id)
	if err != nil {
		s.negotiationFailed(id, err)
		return
	}
	if created && s.identity.ID < id {
		s.offer(id, false)
	}
}

func (s *Session) reconcileLinks() {
	members := make(map[core.ParticipantID]bool)
	for _, p := range s.roster.Snapshot() {
		members[p.ID] = true
		s.syncLink(p.ID)
	}
	for _, id := range s.pool.Participants() {
		if !members[id] {
			s.pool.CloseLink(id)
		}
	}
}

func (s *Session) offer(id core.ParticipantID, iceRestart bool) {
	offer, err := s.pool.Offer(id, iceRestart)
	if err != nil {
		s.negotiationFailed(id, err)
		return
	}
	s.sendTo(id, signaling.OfferKind, signaling.SDPParams{SessionDescription: offer})
}

// linkState gives a failed link one ICE restart before closing it
func (s *Session) linkState(id core.ParticipantID, state rtc.NegotiationState) {
	if state != rtc.StateFailed || s.current().Terminal() {
		return
	}
	link, ok := s.pool.Link(id)
	if !ok {
		return
	}

	if link.Failures() > 1 {
		s.negotiationFailed(id, rtc.ErrLinkClosed)
		return
	}

	s.onNotice(Notice{Kind: core.ErrNegotiationFailed, Participant: id, Degraded: true})
	if s.identity.ID < id {
		s.offer(id, true)
	}
}

// negotiationFailed drops one link; the session and other links are untouched
func (s *Session) negotiationFailed(id core.ParticipantID, err error) {
	log.Warn().Err(err).Str("service", "session").Str("participant", string(id)).Msg("negotiation failed")

	s.pool.CloseLink(id)
	s.onNotice(Notice{Kind: core.ErrNegotiationFailed, Participant: id})
}

func (s *Session) sendTo(to core.ParticipantID, kind signaling.Kind, params interface{}) {
	msg, err := signaling.NewMessage(kind, params)
	if err != nil {
		log.Error().Err(err).Str("service", "session").Str("kind", string(kind)).Msg("encode message")
		return
	}
	msg.To = to

	if err := s.channel.Send(msg); err != nil {
		log.Debug().Err(err).Str("service", "session").Str("kind", string(kind)).Msg("send message")
	}
}

func (s *Session) sendJoin(rejoin bool) {
	// a failed send shows up as a dropped connection or the join timer
	s.sendTo("", signaling.JoinKind, signaling.JoinParams{Participant: s.identity, Rejoin: rejoin})
}

func (s *Session) sendMediaState() {
	if !s.channel.Connected() {
		return
	}
	s.sendTo("", signaling.MediaStateKind, signaling.MediaStateParams{MediaState: s.media.State()})
}

func (s *Session) startTimer() {
	s.stopTimer()

	gen := s.timerGen
	s.timer = time.AfterFunc(s.conf.JoinTimeout, func() {
		s.events.post(func() { s.timeout(gen) })
	})
}

func (s *Session) stopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) timeout(gen uint64) {
	if gen != s.timerGen {
		return
	}

	switch s.current() {
	case Joining:
		s.finish(Failed, core.ErrTimeout, true)
	case Reconnecting:
		s.retryReconnect()
	}
}

func (s *Session) leave(future chan core.Result) {
	if s.current().Terminal() {
		future <- core.Fail(core.ErrInvalidState)
		return
	}

	s.finish(Ended, "", true)

	// the device prompt may still be open; answer once its tracks are stopped
	if s.acquiring {
		s.deferred = append(s.deferred, future)
		return
	}
	future <- core.Ok(nil)
}

// finish releases every resource before the terminal state becomes visible.
// The leave notification is best effort.
func (s *Session) finish(state State, reason core.ErrorKind, sendLeave bool) {
	if s.current().Terminal() {
		return
	}

	s.stopTimer()
	if sendLeave && s.channel.Connected() {
		s.sendTo("", signaling.LeaveKind, nil)
	}
	s.cancel()

	s.conn = nil
	s.channel.Close()
	s.pool.CloseAll()
	s.media.Release()
	s.moderation.FailAll()

	if s.joinFuture != nil {
		kind := reason
		if kind == "" {
			kind = core.ErrCancelled
		}
		s.joinFuture <- core.Fail(kind)
		s.joinFuture = nil
	}

	if s.started {
		s.started = false
		telemetry.SessionStopped()
	}

	s.setState(state, reason)
}

func (s *Session) toggle(kind core.TrackKind, future chan core.Result) {
	enabled, err := s.media.Toggle(kind)
	if err != nil {
		future <- core.Fail(core.ErrInvalidState)
		return
	}

	s.sendMediaState()
	future <- core.Ok(enabled)
}

func (s *Session) toggleScreen(future chan core.Result) {
	if s.current() != Connected || s.screenPending {
		future <- core.Fail(core.ErrInvalidState)
		return
	}

	if s.media.Screen() != nil {
		s.stopScreen()
		future <- core.Ok(false)
		return
	}

	s.screenPending = true
	ctx := s.ctx
	go func() {
		t, err := s.media.OpenScreen(ctx)
		if !s.events.post(func() { s.screenOpened(t, err, future) }) {
			if err == nil {
				t.Stop()
			}
			future <- core.Fail(core.ErrInvalidState)
		}
	}()
}

func (s *Session) screenOpened(t *media.Track, err error, future chan core.Result) {
	s.screenPending = false

	if s.current() != Connected {
		if err == nil {
			t.Stop()
		}
		future <- core.Fail(core.ErrInvalidState)
		return
	}

	if err != nil {
		log.Info().Err(err).Str("service", "session").Msg("screen share denied")
		s.onNotice(Notice{Kind: core.ErrScreenShareDenied})
		future <- core.Fail(core.ErrScreenShareDenied)
		return
	}

	if err := s.media.SetScreen(t); err != nil {
		t.Stop()
		future <- core.Fail(core.ErrInvalidState)
		return
	}
	if err := s.pool.ReplaceOutboundVideo(s.media.OutboundVideo().Local()); err != nil {
		log.Error().Err(err).Str("service", "session").Msg("switch to screen")
		s.media.ClearScreen()
		future <- core.Fail(core.ErrRequestFailed)
		return
	}

	go s.watchScreen(t)

	s.sendMediaState()
	future <- core.Ok(true)
}

// watchScreen turns the OS "stop sharing" signal into a loop event
func (s *Session) watchScreen(t *media.Track) {
	select {
	case <-t.Ended():
		s.events.post(func() {
			if s.media.Screen() == t {
				s.stopScreen()
			}
		})
	case <-t.Done():
	}
}

// stopScreen puts the camera back on every link
func (s *Session) stopScreen() {
	s.media.ClearScreen()

	var local webrtc.TrackLocal
	if video := s.media.OutboundVideo(); video != nil {
		local = video.Local()
	}
	if err := s.pool.ReplaceOutboundVideo(local); err != nil {
		log.Error().Err(err).Str("service", "session").Msg("switch back to camera")
	}

	s.sendMediaState()
}

func closeConn(conn signaling.Conn) {
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("service", "session").Msg("close connection")
	}
}
