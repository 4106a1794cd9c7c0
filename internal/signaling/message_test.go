package signaling

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-classroom/internal/core"
)

const (
	mockSessionID = core.SessionID("0c4038d6-da68-11ec-9d64-0242ac120002")
	mockHostID    = core.ParticipantID("hostA")
	mockUserID    = core.ParticipantID("userB")
)

func TestMessageFromReader(t *testing.T) {
	payload := `{"jsonrpc":"2.0","method":"rosterDelta","session":"` + string(mockSessionID) + `","seq":7,` +
		`"params":{"event":"muteChanged","participant":{"id":"userB","muted":true}}}`

	msg, err := MessageFromReader(strings.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, RosterDeltaKind, msg.Kind)
	assert.Equal(t, mockSessionID, msg.Session)
	assert.Equal(t, uint64(7), msg.Seq)

	delta := DeltaParams{}
	require.NoError(t, msg.Decode(&delta))
	assert.Equal(t, DeltaMuteChanged, delta.Event)
	assert.Equal(t, mockUserID, delta.Participant.ID)
	assert.True(t, delta.Participant.Muted)
}

func TestMessageFromReaderErrors(t *testing.T) {
	_, err := MessageFromReader(strings.NewReader(`{"jsonrpc":"2.0","method":"dance"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = MessageFromReader(strings.NewReader(`{"jsonrpc":"1.0","method":"join"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = MessageFromReader(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestMessageToJSON(t *testing.T) {
	msg, err := NewMessage(ModerateKind, ModerateParams{Action: MuteAction, Target: mockUserID})
	require.NoError(t, err)
	msg.Session = mockSessionID
	msg.From = mockHostID
	msg.RequestID = "req-1"

	payload, err := msg.ToJSON()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"method": "moderate",
		"id": "req-1",
		"session": "`+string(mockSessionID)+`",
		"from": "hostA",
		"params": {"action": "mute", "target": "userB"}
	}`, string(payload))
}

func TestMessageReply(t *testing.T) {
	req := &Message{Kind: ModerateKind, Session: mockSessionID, From: mockHostID, RequestID: "req-1"}

	reply, err := req.Reply(ModerateRejectKind, RejectParams{Reason: ReasonNotFound})
	require.NoError(t, err)

	assert.Equal(t, ModerateRejectKind, reply.Kind)
	assert.Equal(t, mockHostID, reply.To)
	assert.Equal(t, "req-1", reply.RequestID)
	assert.Equal(t, mockSessionID, reply.Session)
}

func TestDecodeWithoutParams(t *testing.T) {
	msg, err := NewMessage(LeaveKind, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, msg.Decode(&RejectParams{}), ErrMalformedMessage)
}

func TestSDPParamsEmbedding(t *testing.T) {
	msg, err := NewMessage(OfferKind, SDPParams{webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(msg.Params))
}

func TestSubjects(t *testing.T) {
	subject := Subject(ServerMessages, mockSessionID, mockUserID)
	assert.Equal(t, "livelook.server_messages."+string(mockSessionID)+".userB", subject)

	session, participant, ok := ParseSubject(subject)
	assert.True(t, ok)
	assert.Equal(t, mockSessionID, session)
	assert.Equal(t, mockUserID, participant)

	_, _, ok = ParseSubject("other.subject")
	assert.False(t, ok)

	assert.Equal(t, "client_messages:s1:userB", ClientMessages.Channel("s1", mockUserID))
	assert.Equal(t, "server_messages:*", ServerMessages.Pattern())

	session, participant, ok = ServerMessages.ParseChannel("server_messages:s1:userB")
	assert.True(t, ok)
	assert.Equal(t, core.SessionID("s1"), session)
	assert.Equal(t, mockUserID, participant)

	_, _, ok = ServerMessages.ParseChannel("client_messages:s1:userB")
	assert.False(t, ok)
}
