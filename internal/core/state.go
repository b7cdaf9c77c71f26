package core

import (
	"context"

	"github.com/dkeye/callsync/internal/domain"
)

// State is the authoritative roster snapshot at one version. It is
// replaced wholesale on every applied delta; readers always see either
// the previous or the next version, never a partial view.
type State struct {
	Participants                []domain.Participant
	NextFetchOffset             *string
	AdminIDs                    map[domain.PeerID]struct{}
	IsCreator                   bool
	DefaultParticipantsAreMuted domain.DefaultMutePolicy
	SortAscending               bool
	RecordingStartTimestamp     *int64
	Title                       *string
	TotalCount                  int
	Version                     int64
}

// Find returns the participant with the given id, or nil. The pointer
// aliases the snapshot's backing array.
func (s State) Find(id domain.PeerID) *domain.Participant {
	for i := range s.Participants {
		if s.Participants[i].PeerID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// IsAdmin reports whether the peer has admin or creator capability.
func (s State) IsAdmin(id domain.PeerID, self domain.PeerID) bool {
	if s.IsCreator && id == self {
		return true
	}
	_, ok := s.AdminIDs[id]
	return ok
}

func (s State) clone() State {
	out := s
	out.Participants = cloneParticipants(s.Participants)
	out.AdminIDs = make(map[domain.PeerID]struct{}, len(s.AdminIDs))
	for id := range s.AdminIDs {
		out.AdminIDs[id] = struct{}{}
	}
	return out
}

func cloneParticipants(list []domain.Participant) []domain.Participant {
	out := make([]domain.Participant, len(list))
	for i, p := range list {
		out[i] = p.Clone()
	}
	return out
}

// pendingMuteChange is one in-flight optimistic mutation. The cancel
// handle aborts the request when a newer mutation for the same peer
// supersedes it, or on session teardown.
type pendingMuteChange struct {
	id        uint64
	muteState *domain.MuteState
	volume    *int
	cancel    context.CancelFunc
}

// overlayState holds pending local mutations not yet confirmed by the
// server, keyed by peer. Entries exist only while a request is in flight.
type overlayState struct {
	pendingMuteChanges map[domain.PeerID]*pendingMuteChange
}

func newOverlayState() overlayState {
	return overlayState{pendingMuteChanges: make(map[domain.PeerID]*pendingMuteChange)}
}

// effectiveState projects State through the overlay and the viewer's
// capabilities. Overlay values win for peers with pending mutations; a
// viewer without admin rights never sees raise-hand ordering. The base
// State is never mutated.
func effectiveState(s State, o overlayState, viewerIsAdmin bool) State {
	out := s.clone()
	changed := false
	for i := range out.Participants {
		p := &out.Participants[i]
		if pending, ok := o.pendingMuteChanges[p.PeerID]; ok {
			p.MuteState = pending.muteState
			if pending.volume != nil {
				v := *pending.volume
				p.Volume = &v
			}
		}
		if !viewerIsAdmin && p.RaiseHandRating != nil {
			p.RaiseHandRating = nil
			changed = true
		}
	}
	if changed {
		sortParticipants(out.Participants, out.SortAscending)
	}
	return out
}
