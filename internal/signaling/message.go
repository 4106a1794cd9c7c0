package signaling

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/isqad/livelook-classroom/internal/core"
)

const jsonRpcVersion = "2.0"

type Kind string

const (
	JoinKind           Kind = "join"
	JoinAckKind        Kind = "joinAck"
	JoinRejectKind     Kind = "joinReject"
	LeaveKind          Kind = "leave"
	RosterDeltaKind    Kind = "rosterDelta"
	RosterSnapshotKind Kind = "rosterSnapshot"
	OfferKind          Kind = "offer"
	AnswerKind         Kind = "answer"
	ICECandidateKind   Kind = "iceCandidate"
	ModerateKind       Kind = "moderate"
	ModerateAckKind    Kind = "moderateAck"
	ModerateRejectKind Kind = "moderateReject"
	MediaStateKind     Kind = "mediaState"
	EndKind            Kind = "end"
)

var kinds = map[Kind]struct{}{
	JoinKind:           {},
	JoinAckKind:        {},
	JoinRejectKind:     {},
	LeaveKind:          {},
	RosterDeltaKind:    {},
	RosterSnapshotKind: {},
	OfferKind:          {},
	AnswerKind:         {},
	ICECandidateKind:   {},
	ModerateKind:       {},
	ModerateAckKind:    {},
	ModerateRejectKind: {},
	MediaStateKind:     {},
	EndKind:            {},
}

func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Kind   `json:"method"`
}

// Message is one signaling message. Seq is the ordering key assigned by the server.
type Message struct {
	Kind      Kind
	Session   core.SessionID
	From      core.ParticipantID
	To        core.ParticipantID
	Seq       uint64
	RequestID string
	Params    json.RawMessage
}

type jsonRpc struct {
	jsonRpcHead
	ID      string             `json:"id,omitempty"`
	Session core.SessionID     `json:"session"`
	From    core.ParticipantID `json:"from,omitempty"`
	To      core.ParticipantID `json:"to,omitempty"`
	Seq     uint64             `json:"seq,omitempty"`
	Params  json.RawMessage    `json:"params,omitempty"`
}

// NewMessage encodes params into a message of the given kind
func NewMessage(kind Kind, params interface{}) (*Message, error) {
	msg := &Message{Kind: kind}
	if params == nil {
		return msg, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	msg.Params = raw

	return msg, nil
}

// Decode unmarshals the params into v
func (m *Message) Decode(v interface{}) error {
	if len(m.Params) == 0 {
		return ErrMalformedMessage
	}
	return json.Unmarshal(m.Params, v)
}

// Reply builds a message addressed back to the sender carrying the same request id
func (m *Message) Reply(kind Kind, params interface{}) (*Message, error) {
	reply, err := NewMessage(kind, params)
	if err != nil {
		return nil, err
	}
	reply.Session = m.Session
	reply.To = m.From
	reply.RequestID = m.RequestID

	return reply, nil
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(jsonRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  m.Kind,
		},
		ID:      m.RequestID,
		Session: m.Session,
		From:    m.From,
		To:      m.To,
		Seq:     m.Seq,
		Params:  m.Params,
	})
}

func MessageFromReader(reader io.Reader) (*Message, error) {
	rpc := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(rpc); err != nil {
		return nil, err
	}
	if rpc.Version != jsonRpcVersion {
		return nil, ErrMalformedMessage
	}
	if !rpc.Method.Valid() {
		return nil, ErrUnknownKind
	}

	return &Message{
		Kind:      rpc.Method,
		Session:   rpc.Session,
		From:      rpc.From,
		To:        rpc.To,
		Seq:       rpc.Seq,
		RequestID: rpc.ID,
		Params:    rpc.Params,
	}, nil
}

func MessageFromBytes(payload []byte) (*Message, error) {
	return MessageFromReader(bytes.NewReader(payload))
}
