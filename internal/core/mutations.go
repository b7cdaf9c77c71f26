package core

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/domain"
)

// UpdateMuteState requests a mute or volume change for a peer. The change
// is overlaid locally until the server confirms; on failure the overlay
// is discarded and the view falls back to last known good.
func (s *Session) UpdateMuteState(peer domain.PeerID, muteState *domain.MuteState, volume *int) {
	s.do(func() {
		s.applyMutation(peer, MutateRequest{MuteState: muteState, Volume: volume})
	})
}

// RaiseHand raises the local participant's hand. Hand state is not
// overlaid; the ordering change arrives with the server's confirmation.
func (s *Session) RaiseHand() {
	raise := true
	s.do(func() {
		s.applyMutation(s.self, MutateRequest{RaiseHand: &raise})
	})
}

// LowerHand lowers a raised hand, the local one or (for admins) another
// participant's.
func (s *Session) LowerHand(peer domain.PeerID) {
	raise := false
	s.do(func() {
		s.applyMutation(peer, MutateRequest{RaiseHand: &raise})
	})
}

func (s *Session) applyMutation(peer domain.PeerID, req MutateRequest) {
	if s.mutationIsNoop(peer, req) {
		return
	}

	// Cancel-and-replace: never two in-flight requests for one peer.
	if prev, ok := s.overlay.pendingMuteChanges[peer]; ok {
		prev.cancel()
		delete(s.overlay.pendingMuteChanges, peer)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	id := s.nextMutationID
	s.nextMutationID++

	if req.RaiseHand == nil {
		s.overlay.pendingMuteChanges[peer] = &pendingMuteChange{
			id:        id,
			muteState: req.MuteState,
			volume:    req.Volume,
			cancel:    cancel,
		}
		s.publish()
	}

	log.Debug().Str("module", "core.mutations").Str("peer", string(peer)).Uint64("request", id).Msg("mutation issued")
	go func() {
		defer cancel()
		batch, err := s.backend.MutateParticipant(ctx, s.callID, peer, req)
		s.do(func() { s.completeMutation(peer, id, batch, err) })
	}()
}

// mutationIsNoop compares the request against the overlay-aware view,
// not the raw State. Capability masking is skipped here: it hides raised
// hands from display, not from the requester's own intent.
func (s *Session) mutationIsNoop(peer domain.PeerID, req MutateRequest) bool {
	eff := effectiveState(s.state, s.overlay, true)
	p := eff.Find(peer)
	if p == nil {
		return false
	}
	if req.RaiseHand != nil {
		return p.HandRaised() == *req.RaiseHand
	}
	if req.Volume != nil && (p.Volume == nil || *p.Volume != *req.Volume) {
		return false
	}
	return sameMuteState(p.MuteState, req.MuteState)
}

func sameMuteState(a, b *domain.MuteState) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// completeMutation reconciles the server's answer. Success feeds the
// returned delta through the normal processor path with an instruction to
// close the optimistic window for this peer; failure rolls the overlay
// back silently.
func (s *Session) completeMutation(peer domain.PeerID, id uint64, batch *UpdateBatch, err error) {
	if err != nil || batch == nil {
		// Roll back only our own overlay entry; a superseding request may
		// already own the slot.
		if pending, ok := s.overlay.pendingMuteChanges[peer]; ok && pending.id == id {
			pending.cancel()
			delete(s.overlay.pendingMuteChanges, peer)
			s.publish()
		}
		if err != nil {
			log.Debug().Err(err).Str("module", "core.mutations").Str("peer", string(peer)).Uint64("request", id).Msg("mutation failed, overlay rolled back")
		}
		return
	}

	// Close the optimistic window here, not only via the queued batch: if
	// the confirmation gaps the version stream the queue is dropped and
	// its removal list with it.
	if pending, ok := s.overlay.pendingMuteChanges[peer]; ok && pending.id == id {
		pending.cancel()
		delete(s.overlay.pendingMuteChanges, peer)
		s.publish()
	}

	confirmed := *batch
	confirmed.RemovePendingMuteStates = append(confirmed.RemovePendingMuteStates, peer)
	s.queue = append(s.queue, confirmed)
	s.processQueue()
}
