package roster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

var mockJoinedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func participant(id core.ParticipantID, role core.Role, offset time.Duration) core.Participant {
	return core.Participant{
		ID:          id,
		DisplayName: string(id),
		Role:        role,
		Online:      true,
		JoinedAt:    mockJoinedAt.Add(offset),
	}
}

func apply(t *testing.T, r *Roster, d Delta) bool {
	t.Helper()

	changed, err := r.Apply(d)
	require.NoError(t, err)
	return changed
}

func ids(list []core.Participant) []core.ParticipantID {
	out := make([]core.ParticipantID, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func TestJoinAndSnapshotOrder(t *testing.T) {
	r := New()

	apply(t, r, Delta{Seq: 2, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, time.Second)})
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("hostA", core.RoleHost, 0)})

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, core.ParticipantID("hostA"), snapshot[0].ID)
	assert.Equal(t, core.ParticipantID("userB"), snapshot[1].ID)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("hostA", core.RoleHost, 0)})

	snapshot := r.Snapshot()
	snapshot[0].Muted = true

	p, ok := r.Get("hostA")
	require.True(t, ok)
	assert.False(t, p.Muted)

	// a snapshot taken before a change does not see it
	apply(t, r, Delta{Seq: 2, Event: signaling.DeltaLeave, Participant: core.Participant{ID: "hostA"}})
	assert.Len(t, snapshot, 1)
	assert.Empty(t, r.Snapshot())
}

func TestStaleMuteDoesNotRegress(t *testing.T) {
	r := New()
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)})

	assert.True(t, apply(t, r, Delta{Seq: 5, Event: signaling.DeltaMuteChanged, Participant: core.Participant{ID: "userB", Muted: true}}))
	assert.False(t, apply(t, r, Delta{Seq: 3, Event: signaling.DeltaMuteChanged, Participant: core.Participant{ID: "userB", Muted: false}}))

	p, _ := r.Get("userB")
	assert.True(t, p.Muted)
}

func TestStalePresenceDoesNotRegress(t *testing.T) {
	r := New()
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)})

	apply(t, r, Delta{Seq: 4, Event: signaling.DeltaPresenceChanged, Participant: core.Participant{ID: "userB", Online: false}})
	apply(t, r, Delta{Seq: 2, Event: signaling.DeltaPresenceChanged, Participant: core.Participant{ID: "userB", Online: true}})

	p, _ := r.Get("userB")
	assert.False(t, p.Online)
}

func TestFieldsAreIndependent(t *testing.T) {
	r := New()
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)})

	apply(t, r, Delta{Seq: 6, Event: signaling.DeltaPresenceChanged, Participant: core.Participant{ID: "userB", Online: false}})
	// older than the presence change but newer than the last mute change
	assert.True(t, apply(t, r, Delta{Seq: 4, Event: signaling.DeltaMuteChanged, Participant: core.Participant{ID: "userB", Muted: true}}))

	p, _ := r.Get("userB")
	assert.True(t, p.Muted)
	assert.False(t, p.Online)
}

func TestMuteOvertakingJoin(t *testing.T) {
	r := New()

	assert.False(t, apply(t, r, Delta{Seq: 3, Event: signaling.DeltaMuteChanged, Participant: core.Participant{ID: "userB", Muted: true}}))
	assert.Empty(t, r.Snapshot())

	assert.True(t, apply(t, r, Delta{Seq: 2, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)}))

	p, ok := r.Get("userB")
	require.True(t, ok)
	assert.True(t, p.Muted)
}

func TestLateJoinAfterLeave(t *testing.T) {
	r := New()
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)})
	apply(t, r, Delta{Seq: 3, Event: signaling.DeltaLeave, Participant: core.Participant{ID: "userB"}})

	// a duplicate join delivered late must not resurrect userB
	assert.False(t, apply(t, r, Delta{Seq: 2, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)}))
	assert.False(t, r.Contains("userB"))

	// a genuine rejoin is newer than the leave
	assert.True(t, apply(t, r, Delta{Seq: 4, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)}))
	assert.True(t, r.Contains("userB"))
}

func TestLeaveBeforeJoinDelivered(t *testing.T) {
	r := New()

	assert.False(t, apply(t, r, Delta{Seq: 5, Event: signaling.DeltaLeave, Participant: core.Participant{ID: "userB"}}))
	assert.False(t, apply(t, r, Delta{Seq: 4, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)}))
	assert.Equal(t, 0, r.Len())
}

func TestReplaceDiscardsDeltas(t *testing.T) {
	r := New()
	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("hostA", core.RoleHost, 0)})
	apply(t, r, Delta{Seq: 2, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, time.Second)})
	apply(t, r, Delta{Seq: 3, Event: signaling.DeltaLeave, Participant: core.Participant{ID: "userC"}})

	r.Replace([]core.Participant{participant("hostA", core.RoleHost, 0), participant("userC", core.RoleAttendee, 2*time.Second)}, 10)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, core.ParticipantID("hostA"), snapshot[0].ID)
	assert.Equal(t, core.ParticipantID("userC"), snapshot[1].ID)

	// deltas older than the snapshot are stale
	assert.False(t, apply(t, r, Delta{Seq: 9, Event: signaling.DeltaMuteChanged, Participant: core.Participant{ID: "userC", Muted: true}}))
}

func TestReplaceIsAFloorForMissingParticipants(t *testing.T) {
	r := New()
	r.Replace([]core.Participant{participant("hostA", core.RoleHost, 0)}, 10)

	// userB left before the snapshot was taken; its join is older than the snapshot
	assert.False(t, apply(t, r, Delta{Seq: 5, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, time.Second)}))
	assert.False(t, apply(t, r, Delta{Seq: 10, Event: signaling.DeltaPresenceChanged, Participant: core.Participant{ID: "userB", Online: true}}))
	assert.Equal(t, []core.ParticipantID{"hostA"}, ids(r.Snapshot()))

	// members of the snapshot still take deltas
	assert.True(t, apply(t, r, Delta{Seq: 11, Event: signaling.DeltaMuteChanged, Participant: core.Participant{ID: "hostA", Muted: true}}))

	// a join after the snapshot is genuine
	assert.True(t, apply(t, r, Delta{Seq: 12, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, time.Second)}))
	assert.Equal(t, []core.ParticipantID{"hostA", "userB"}, ids(r.Snapshot()))
}

func TestDeparted(t *testing.T) {
	r := New()
	assert.False(t, r.Departed("userB"))

	apply(t, r, Delta{Seq: 1, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)})
	assert.False(t, r.Departed("userB"))

	apply(t, r, Delta{Seq: 2, Event: signaling.DeltaLeave, Participant: core.Participant{ID: "userB"}})
	assert.True(t, r.Departed("userB"))

	apply(t, r, Delta{Seq: 3, Event: signaling.DeltaJoin, Participant: participant("userB", core.RoleAttendee, 0)})
	assert.False(t, r.Departed("userB"))

	apply(t, r, Delta{Seq: 4, Event: signaling.DeltaLeave, Participant: core.Participant{ID: "userB"}})
	r.Replace(nil, 5)
	assert.False(t, r.Departed("userB"))
}

func TestUnknownEvent(t *testing.T) {
	r := New()

	_, err := r.Apply(Delta{Seq: 1, Event: "wave", Participant: core.Participant{ID: "userB"}})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDeltaFromMessage(t *testing.T) {
	msg, err := signaling.NewMessage(signaling.RosterDeltaKind, signaling.DeltaParams{
		Event:       signaling.DeltaLeave,
		Participant: core.Participant{ID: "userB"},
		Removed:     true,
	})
	require.NoError(t, err)
	msg.Seq = 12

	d, err := DeltaFromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), d.Seq)
	assert.Equal(t, signaling.DeltaLeave, d.Event)
	assert.True(t, d.Removed)
}
