// Package roster keeps the server-confirmed participant list of a session.
package roster

import (
	"errors"
	"sort"
	"sync"

	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
)

var ErrUnknownEvent = errors.New("unknown roster event")

// Delta is one roster change with the server ordering key
type Delta struct {
	Seq         uint64
	Event       signaling.DeltaEvent
	Participant core.Participant
	Removed     bool
}

func DeltaFromMessage(msg *signaling.Message) (Delta, error) {
	params := signaling.DeltaParams{}
	if err := msg.Decode(&params); err != nil {
		return Delta{}, err
	}

	return Delta{
		Seq:         msg.Seq,
		Event:       params.Event,
		Participant: params.Participant,
		Removed:     params.Removed,
	}, nil
}

// entry tracks the sequence of the last update per field. An entry that
// has not joined yet only remembers field updates that overtook the join.
type entry struct {
	participant core.Participant
	joined      bool
	joinSeq     uint64
	muteSeq     uint64
	presenceSeq uint64
}

// Roster applies deltas with last-write-wins per participant field. A leave
// leaves a tombstone so that a late join cannot bring the participant back.
// After Replace the snapshot seq is a floor for participants it left out.
type Roster struct {
	mu         sync.RWMutex
	entries    map[core.ParticipantID]*entry
	tombstones map[core.ParticipantID]uint64
	floor      uint64
	snapshot   []core.Participant
}

func New() *Roster {
	return &Roster{
		entries:    make(map[core.ParticipantID]*entry),
		tombstones: make(map[core.ParticipantID]uint64),
		snapshot:   []core.Participant{},
	}
}

// Apply reports whether the delta changed the roster. Stale deltas are ignored.
func (r *Roster) Apply(d Delta) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := d.Participant.ID
	e, known := r.entries[id]
	joined := known && e.joined

	if !known && r.floor > 0 && d.Seq <= r.floor {
		return false, nil
	}

	switch d.Event {
	case signaling.DeltaJoin:
		if left, ok := r.tombstones[id]; ok && d.Seq <= left {
			return false, nil
		}
		if joined && d.Seq < e.joinSeq {
			return false, nil
		}
		delete(r.tombstones, id)

		p := d.Participant
		if !known {
			e = &entry{}
			r.entries[id] = e
		}
		// fields with newer updates keep their value
		if e.muteSeq > d.Seq {
			p.Muted = e.participant.Muted
		}
		if e.presenceSeq > d.Seq {
			p.Online = e.participant.Online
		}
		e.participant = p
		e.joined = true
		e.joinSeq = d.Seq
		e.muteSeq = maxSeq(e.muteSeq, d.Seq)
		e.presenceSeq = maxSeq(e.presenceSeq, d.Seq)

	case signaling.DeltaLeave:
		if known && d.Seq < e.joinSeq {
			return false, nil
		}
		if d.Seq > r.tombstones[id] {
			r.tombstones[id] = d.Seq
		}
		delete(r.entries, id)
		if !joined {
			return false, nil
		}

	case signaling.DeltaMuteChanged:
		if r.tombstoned(id, d.Seq) {
			return false, nil
		}
		if !known {
			e = &entry{participant: core.Participant{ID: id}}
			r.entries[id] = e
		}
		if d.Seq < e.muteSeq {
			return false, nil
		}
		if d.Seq == e.muteSeq && e.participant.Muted == d.Participant.Muted {
			return false, nil
		}
		e.participant.Muted = d.Participant.Muted
		e.muteSeq = d.Seq
		if !joined {
			return false, nil
		}

	case signaling.DeltaPresenceChanged:
		if r.tombstoned(id, d.Seq) {
			return false, nil
		}
		if !known {
			e = &entry{participant: core.Participant{ID: id}}
			r.entries[id] = e
		}
		if d.Seq < e.presenceSeq {
			return false, nil
		}
		if d.Seq == e.presenceSeq && e.participant.Online == d.Participant.Online {
			return false, nil
		}
		e.participant.Online = d.Participant.Online
		e.presenceSeq = d.Seq
		if !joined {
			return false, nil
		}

	default:
		return false, ErrUnknownEvent
	}

	r.rebuild()

	return true, nil
}

// Replace discards everything, tombstones included, and installs list as of
// seq. Deltas up to seq about participants missing from list are stale.
func (r *Roster) Replace(list []core.Participant, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[core.ParticipantID]*entry, len(list))
	r.tombstones = make(map[core.ParticipantID]uint64)
	r.floor = seq

	for _, p := range list {
		r.entries[p.ID] = &entry{
			participant: p,
			joined:      true,
			joinSeq:     seq,
			muteSeq:     seq,
			presenceSeq: seq,
		}
	}

	r.rebuild()
}

// rebuild publishes a fresh snapshot slice; published slices are never written again
func (r *Roster) rebuild() {
	snapshot := make([]core.Participant, 0, len(r.entries))
	for _, e := range r.entries {
		if e.joined {
			snapshot = append(snapshot, e.participant)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].JoinedAt.Equal(snapshot[j].JoinedAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].JoinedAt.Before(snapshot[j].JoinedAt)
	})

	r.snapshot = snapshot
}

// Snapshot returns a copy of the participants ordered by join time. Never blocks on network.
func (r *Roster) Snapshot() []core.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]core.Participant(nil), r.snapshot...)
}

func (r *Roster) Get(id core.ParticipantID) (core.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || !e.joined {
		return core.Participant{}, false
	}
	return e.participant, true
}

// Departed reports whether id left and has not joined again
func (r *Roster) Departed(id core.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, left := r.tombstones[id]
	return left
}

func (r *Roster) tombstoned(id core.ParticipantID, seq uint64) bool {
	left, ok := r.tombstones[id]
	return ok && seq <= left
}

func (r *Roster) Contains(id core.ParticipantID) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.snapshot)
}

func maxSeq(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
