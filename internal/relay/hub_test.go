package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

const mockSessionID core.SessionID = "sess-1"

var (
	host     = core.Identity{ID: "hostA", Name: "Host", Role: core.RoleHost}
	attendee = core.Identity{ID: "userB", Name: "User", Role: core.RoleAttendee}
	student  = core.Identity{ID: "userC", Name: "Student", Role: core.RoleAttendee}
)

type MockOutbox struct {
	mu   sync.Mutex
	msgs []*signaling.Message
}

func (o *MockOutbox) Deliver(msg *signaling.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *MockOutbox) Messages() []*signaling.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]*signaling.Message(nil), o.msgs...)
}

func (o *MockOutbox) Last(t *testing.T) *signaling.Message {
	t.Helper()

	msgs := o.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (o *MockOutbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.msgs = nil
}

type MockAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *MockAuditor) Record(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, entry)
}

func (a *MockAuditor) Actions() []AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	actions := make([]AuditAction, 0, len(a.entries))
	for _, e := range a.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func newMessage(t *testing.T, kind signaling.Kind, params interface{}) *signaling.Message {
	t.Helper()

	msg, err := signaling.NewMessage(kind, params)
	require.NoError(t, err)
	return msg
}

func join(t *testing.T, hub *Hub, identity core.Identity, outbox Outbox, rejoin bool) {
	t.Helper()

	msg := newMessage(t, signaling.JoinKind, signaling.JoinParams{Participant: identity, Rejoin: rejoin})
	hub.Handle(mockSessionID, identity.ID, outbox, msg)
}

func decode(t *testing.T, msg *signaling.Message, v interface{}) {
	t.Helper()

	require.NoError(t, msg.Decode(v))
}

func ids(list []core.Participant) []core.ParticipantID {
	out := make([]core.ParticipantID, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func TestJoinAcknowledgedWithRoster(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	ack := hostOut.Last(t)
	assert.Equal(t, signaling.JoinAckKind, ack.Kind)
	assert.Equal(t, core.ParticipantID("hostA"), ack.To)
	assert.Equal(t, uint64(1), ack.Seq)

	join(t, hub, attendee, userOut, false)
	ack = userOut.Last(t)
	require.Equal(t, signaling.JoinAckKind, ack.Kind)
	params := signaling.JoinAckParams{}
	decode(t, ack, &params)
	assert.Equal(t, []core.ParticipantID{"hostA", "userB"}, ids(params.Roster))
	assert.True(t, params.Roster[1].Online)

	delta := hostOut.Last(t)
	require.Equal(t, signaling.RosterDeltaKind, delta.Kind)
	assert.Greater(t, delta.Seq, ack.Seq)
	change := signaling.DeltaParams{}
	decode(t, delta, &change)
	assert.Equal(t, signaling.DeltaJoin, change.Event)
	assert.Equal(t, "User", change.Participant.DisplayName)

	assert.Equal(t, []core.ParticipantID{"hostA", "userB"}, ids(hub.Roster(mockSessionID)))
}

func TestJoinWithForeignIdentity(t *testing.T) {
	hub := NewHub(HubOptions{})
	out := &MockOutbox{}

	msg := newMessage(t, signaling.JoinKind, signaling.JoinParams{Participant: host})
	hub.Handle(mockSessionID, "userB", out, msg)

	reject := out.Last(t)
	assert.Equal(t, signaling.JoinRejectKind, reject.Kind)
	params := signaling.RejectParams{}
	decode(t, reject, &params)
	assert.Equal(t, signaling.ReasonUnauthorized, params.Reason)
	assert.Empty(t, hub.Roster(mockSessionID))
}

func TestSessionFull(t *testing.T) {
	hub := NewHub(HubOptions{MaxParticipants: 1})
	out := &MockOutbox{}

	join(t, hub, host, &MockOutbox{}, false)
	join(t, hub, attendee, out, false)

	params := signaling.RejectParams{}
	decode(t, out.Last(t), &params)
	assert.Equal(t, signaling.ReasonSessionFull, params.Reason)
	assert.Len(t, hub.Roster(mockSessionID), 1)
}

func TestRejoinOfUnknownParticipant(t *testing.T) {
	hub := NewHub(HubOptions{})
	out := &MockOutbox{}

	join(t, hub, attendee, out, true)

	reject := out.Last(t)
	require.Equal(t, signaling.JoinRejectKind, reject.Kind)
	params := signaling.RejectParams{}
	decode(t, reject, &params)
	assert.Equal(t, signaling.ReasonNotFound, params.Reason)
}

func TestDisconnectAndRejoin(t *testing.T) {
	hub := NewHub(HubOptions{OfflineGrace: time.Minute})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)

	hub.Disconnect(mockSessionID, "userB", userOut)
	change := signaling.DeltaParams{}
	decode(t, hostOut.Last(t), &change)
	assert.Equal(t, signaling.DeltaPresenceChanged, change.Event)
	assert.False(t, change.Participant.Online)
	assert.Len(t, hub.Roster(mockSessionID), 2)

	// the stale connection has no say anymore
	hostOut.Reset()
	hub.Handle(mockSessionID, "userB", userOut, newMessage(t, signaling.MediaStateKind, signaling.MediaStateParams{}))
	assert.Empty(t, hostOut.Messages())

	rejoined := &MockOutbox{}
	join(t, hub, attendee, rejoined, true)
	assert.Equal(t, signaling.JoinAckKind, rejoined.Last(t).Kind)

	decode(t, hostOut.Last(t), &change)
	assert.Equal(t, signaling.DeltaPresenceChanged, change.Event)
	assert.True(t, change.Participant.Online)
}

func TestOfflineGraceExpires(t *testing.T) {
	auditor := &MockAuditor{}
	hub := NewHub(HubOptions{OfflineGrace: 10 * time.Millisecond, Audit: auditor})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)
	hub.Disconnect(mockSessionID, "userB", userOut)

	require.Eventually(t, func() bool { return len(hub.Roster(mockSessionID)) == 1 }, time.Second, time.Millisecond)

	change := signaling.DeltaParams{}
	decode(t, hostOut.Last(t), &change)
	assert.Equal(t, signaling.DeltaLeave, change.Event)
	assert.Equal(t, core.ParticipantID("userB"), change.Participant.ID)
	assert.False(t, change.Removed)
	assert.Equal(t, []AuditAction{AuditJoin, AuditJoin, AuditLeave}, auditor.Actions())
}

func TestNegotiationIsForwarded(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)

	offer := newMessage(t, signaling.OfferKind, map[string]string{"type": "offer", "sdp": "v=0"})
	offer.To = "hostA"
	hub.Handle(mockSessionID, "userB", userOut, offer)

	got := hostOut.Last(t)
	assert.Equal(t, signaling.OfferKind, got.Kind)
	assert.Equal(t, core.ParticipantID("userB"), got.From)
	assert.Equal(t, mockSessionID, got.Session)

	// nobody to forward to
	hostOut.Reset()
	lost := newMessage(t, signaling.ICECandidateKind, map[string]string{"candidate": "c"})
	lost.To = "userZ"
	hub.Handle(mockSessionID, "userB", userOut, lost)
	assert.Empty(t, hostOut.Messages())
}

func TestMediaStatePublishesMute(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)
	hostOut.Reset()

	state := signaling.MediaStateParams{MediaState: core.MediaState{Audio: false, Video: true}}
	hub.Handle(mockSessionID, "userB", userOut, newMessage(t, signaling.MediaStateKind, state))

	change := signaling.DeltaParams{}
	decode(t, hostOut.Last(t), &change)
	assert.Equal(t, signaling.DeltaMuteChanged, change.Event)
	assert.True(t, change.Participant.Muted)

	// unchanged flags publish nothing
	hub.Handle(mockSessionID, "userB", userOut, newMessage(t, signaling.MediaStateKind, state))
	assert.Len(t, hostOut.Messages(), 1)
}

func moderate(t *testing.T, hub *Hub, from core.ParticipantID, outbox Outbox, action signaling.ModerationAction, target core.ParticipantID) {
	t.Helper()

	msg := newMessage(t, signaling.ModerateKind, signaling.ModerateParams{Action: action, Target: target})
	msg.RequestID = "req-1"
	hub.Handle(mockSessionID, from, outbox, msg)
}

func TestModerationRejected(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)

	cases := []struct {
		name   string
		from   core.ParticipantID
		outbox *MockOutbox
		target core.ParticipantID
		reason string
	}{
		{"attendee", "userB", userOut, "hostA", signaling.ReasonUnauthorized},
		{"unknown target", "hostA", hostOut, "userZ", signaling.ReasonNotFound},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			moderate(t, hub, c.from, c.outbox, signaling.MuteAction, c.target)

			reply := c.outbox.Last(t)
			require.Equal(t, signaling.ModerateRejectKind, reply.Kind)
			assert.Equal(t, "req-1", reply.RequestID)
			params := signaling.RejectParams{}
			decode(t, reply, &params)
			assert.Equal(t, c.reason, params.Reason)
		})
	}
}

func TestHostMutes(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)
	hostOut.Reset()

	moderate(t, hub, "hostA", hostOut, signaling.MuteAction, "userB")

	msgs := hostOut.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, signaling.ModerateAckKind, msgs[0].Kind)
	assert.Equal(t, "req-1", msgs[0].RequestID)
	assert.Equal(t, signaling.RosterDeltaKind, msgs[1].Kind)

	change := signaling.DeltaParams{}
	decode(t, userOut.Last(t), &change)
	assert.Equal(t, signaling.DeltaMuteChanged, change.Event)
	assert.Equal(t, core.ParticipantID("userB"), change.Participant.ID)
	assert.True(t, change.Participant.Muted)
	assert.True(t, hub.Roster(mockSessionID)[1].Muted)
}

func TestHostRemoves(t *testing.T) {
	auditor := &MockAuditor{}
	hub := NewHub(HubOptions{Audit: auditor})
	hostOut, userOut, studentOut := &MockOutbox{}, &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)
	join(t, hub, student, studentOut, false)

	moderate(t, hub, "hostA", hostOut, signaling.RemoveAction, "userB")

	for _, out := range []*MockOutbox{hostOut, userOut, studentOut} {
		change := signaling.DeltaParams{}
		decode(t, out.Last(t), &change)
		assert.Equal(t, signaling.DeltaLeave, change.Event)
		assert.Equal(t, core.ParticipantID("userB"), change.Participant.ID)
		assert.True(t, change.Removed)
	}
	assert.Equal(t, []core.ParticipantID{"hostA", "userC"}, ids(hub.Roster(mockSessionID)))
	assert.Equal(t, []AuditAction{AuditJoin, AuditJoin, AuditJoin, AuditRemove}, auditor.Actions())

	// removed participants cannot rejoin silently
	join(t, hub, attendee, userOut, true)
	assert.Equal(t, signaling.JoinRejectKind, userOut.Last(t).Kind)
}

func TestHostLeaveEndsSession(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)

	hub.Handle(mockSessionID, "hostA", hostOut, newMessage(t, signaling.LeaveKind, nil))

	end := userOut.Last(t)
	require.Equal(t, signaling.EndKind, end.Kind)
	params := signaling.EndParams{}
	decode(t, end, &params)
	assert.Equal(t, signaling.ReasonHostLeft, params.Reason)
	assert.Empty(t, hub.Roster(mockSessionID))
}

func TestAttendeeLeave(t *testing.T) {
	hub := NewHub(HubOptions{})
	hostOut, userOut := &MockOutbox{}, &MockOutbox{}

	join(t, hub, host, hostOut, false)
	join(t, hub, attendee, userOut, false)

	hub.Handle(mockSessionID, "userB", userOut, newMessage(t, signaling.LeaveKind, nil))

	change := signaling.DeltaParams{}
	decode(t, hostOut.Last(t), &change)
	assert.Equal(t, signaling.DeltaLeave, change.Event)
	assert.False(t, change.Removed)
	assert.Equal(t, []core.ParticipantID{"hostA"}, ids(hub.Roster(mockSessionID)))
}
