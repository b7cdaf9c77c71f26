package core

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/domain"
)

// AddUpdates feeds push-stream frames into the session. Delta batches are
// queued FIFO and drained one at a time; settings frames apply
// immediately.
func (s *Session) AddUpdates(updates ...Update) {
	s.do(func() {
		for _, u := range updates {
			if u.Settings != nil {
				s.applySettings(*u.Settings)
			}
			if u.Batch != nil {
				s.queue = append(s.queue, *u.Batch)
			}
		}
		s.processQueue()
	})
}

// RequestResync forces a full snapshot refetch, e.g. after the push
// stream reconnected and may have gapped.
func (s *Session) RequestResync() {
	s.do(func() { s.requestResync("external request") })
}

// processQueue drains buffered deltas while the session is idle. Resync
// and backfill hold the queue still; it is re-drained when they finish.
func (s *Session) processQueue() {
	if s.resyncing {
		return
	}
	for len(s.queue) > 0 {
		batch := s.queue[0]
		s.queue = s.queue[1:]

		switch {
		case batch.Version < s.state.Version:
			// Stale: the payload is already reflected, but server-confirmed
			// overlay clears must still land.
			log.Debug().Str("module", "core.processor").Int64("version", batch.Version).Int64("current", s.state.Version).Msg("stale delta discarded")
			if s.clearOverlayEntries(batch.RemovePendingMuteStates) {
				s.publish()
			}
		case batch.Version > s.state.Version+1:
			log.Warn().Str("module", "core.processor").Int64("version", batch.Version).Int64("current", s.state.Version).Msg("version gap, resyncing")
			s.queue = nil
			s.requestResync("version gap")
			return
		default:
			s.applyBatch(batch)
		}
	}
}

// applyBatch merges one advancing delta (version == current or current+1)
// into State and replaces it wholesale.
func (s *Session) applyBatch(batch UpdateBatch) {
	participants := cloneParticipants(s.state.Participants)
	byID := make(map[domain.PeerID]int, len(participants))
	for i := range participants {
		byID[participants[i].PeerID] = i
	}

	total := s.state.TotalCount
	var events []MemberEvent

	for _, u := range batch.Updates {
		if u.Status == StatusLeft {
			if idx, ok := byID[u.PeerID]; ok {
				participants = append(participants[:idx], participants[idx+1:]...)
				delete(byID, u.PeerID)
				for id, i := range byID {
					if i > idx {
						byID[id] = i - 1
					}
				}
				events = append(events, MemberEvent{Kind: MemberLeft, PeerID: u.PeerID})
			}
			// The server already counted the departure even when the peer
			// was outside our paginated window.
			total--
			if total < 0 {
				total = 0
			}
			continue
		}

		if _, ok := s.peers.Resolve(u.PeerID); !ok {
			if s.strictPeers {
				panic("unresolvable peer reference in delta: " + string(u.PeerID))
			}
			log.Error().Str("module", "core.processor").Str("peer", string(u.PeerID)).Msg("unresolvable peer reference, skipping")
			continue
		}

		idx, existed := byID[u.PeerID]
		var prev *domain.Participant
		if existed {
			prev = &participants[idx]
		}
		merged := mergeParticipantUpdate(prev, u)
		if existed {
			participants[idx] = merged
		} else {
			byID[u.PeerID] = len(participants)
			participants = append(participants, merged)
			if u.Status == StatusJoined {
				total++
				events = append(events, MemberEvent{Kind: MemberJoined, PeerID: u.PeerID})
			}
		}
	}

	if total < len(participants) {
		total = len(participants)
	}
	sortParticipants(participants, s.state.SortAscending)

	next := s.state
	next.Participants = participants
	next.TotalCount = total
	next.Version = batch.Version
	s.state = next

	s.clearOverlayEntries(batch.RemovePendingMuteStates)
	log.Debug().Str("module", "core.processor").Int64("version", batch.Version).Int("participants", len(participants)).Msg("delta applied")
	s.emitMemberEvents(events)
	s.publish()
}

// mergeParticipantUpdate folds an update into the previously known entry.
// Join timestamp and activity rank are sticky; activity timestamp never
// regresses; a minimal projection keeps user-initiated mute and volume.
func mergeParticipantUpdate(prev *domain.Participant, u ParticipantUpdate) domain.Participant {
	out := domain.Participant{
		PeerID:          u.PeerID,
		JoinTimestamp:   u.JoinTimestamp,
		RaiseHandRating: u.RaiseHandRating,
		MuteState:       u.MuteState,
		Volume:          u.Volume,
		About:           u.About,
		SSRC:            u.SSRC,
	}
	if u.ActivityTimestamp != nil {
		ts := *u.ActivityTimestamp
		out.ActivityTimestamp = &ts
	}
	if prev == nil {
		return out.Clone()
	}

	out.JoinTimestamp = prev.JoinTimestamp
	out.ActivityRank = prev.ActivityRank
	if prev.ActivityTimestamp != nil &&
		(out.ActivityTimestamp == nil || *prev.ActivityTimestamp > *out.ActivityTimestamp) {
		out.ActivityTimestamp = prev.ActivityTimestamp
	}
	if out.SSRC == nil {
		out.SSRC = prev.SSRC
	}
	if u.IsMin {
		if prev.MuteState != nil && prev.MuteState.MutedByYou {
			out.MuteState = prev.MuteState
		}
		out.Volume = prev.Volume
	}
	return out.Clone()
}

// clearOverlayEntries cancels and removes pending mutations the server has
// confirmed or superseded. Reports whether anything was removed.
func (s *Session) clearOverlayEntries(peers []domain.PeerID) bool {
	removed := false
	for _, id := range peers {
		if pending, ok := s.overlay.pendingMuteChanges[id]; ok {
			pending.cancel()
			delete(s.overlay.pendingMuteChanges, id)
			removed = true
		}
	}
	return removed
}

// requestResync starts a snapshot refetch, or defers it behind an
// outstanding backfill so the two never interleave.
func (s *Session) requestResync(reason string) {
	if s.resyncing {
		return
	}
	if s.fetchingSSRCs {
		log.Debug().Str("module", "core.processor").Str("reason", reason).Msg("resync deferred behind backfill")
		s.shouldResync = true
		return
	}
	log.Info().Str("module", "core.processor").Str("reason", reason).Msg("resyncing from server")
	s.beginResync()
}

func (s *Session) beginResync() {
	s.resyncing = true
	s.shouldResync = false
	req := FetchRequest{Limit: s.pageSize, SortAscending: s.state.SortAscending}
	ctx := s.ctx
	go func() {
		res, err := s.backend.FetchParticipants(ctx, s.callID, req)
		s.do(func() { s.completeResync(res, err) })
	}()
}

// completeResync replaces State wholesale with the fresh snapshot,
// keeping locally owned speaking annotations the server knows nothing
// about. Buffered deltas are superseded and dropped.
func (s *Session) completeResync(res FetchResult, err error) {
	s.resyncing = false
	if err != nil {
		// Stay on last known good; the next push or gap retriggers.
		log.Error().Err(err).Str("module", "core.processor").Msg("resync fetch failed")
		s.processQueue()
		return
	}

	participants := cloneParticipants(res.Participants)
	for i := range participants {
		if prev := s.state.Find(participants[i].PeerID); prev != nil {
			participants[i].ActivityTimestamp = prev.ActivityTimestamp
			participants[i].ActivityRank = prev.ActivityRank
		}
	}
	total := res.TotalCount
	if total < len(participants) {
		total = len(participants)
	}
	sortParticipants(participants, res.SortAscending)

	s.state = State{
		Participants:                participants,
		NextFetchOffset:             res.NextOffset,
		AdminIDs:                    s.state.AdminIDs,
		IsCreator:                   s.state.IsCreator,
		DefaultParticipantsAreMuted: s.state.DefaultParticipantsAreMuted,
		SortAscending:               res.SortAscending,
		RecordingStartTimestamp:     s.state.RecordingStartTimestamp,
		Title:                       s.state.Title,
		TotalCount:                  total,
		Version:                     res.Version,
	}
	s.queue = nil
	s.resyncEpoch++
	log.Info().Str("module", "core.processor").Int64("version", res.Version).Int("participants", len(participants)).Msg("resync applied")
	s.publish()
}

// stateFromSnapshot builds the initial State from a seed fetch result.
func (s *Session) stateFromSnapshot(res FetchResult) State {
	participants := cloneParticipants(res.Participants)
	total := res.TotalCount
	if total < len(participants) {
		total = len(participants)
	}
	sortParticipants(participants, res.SortAscending)
	st := State{
		Participants:    participants,
		NextFetchOffset: res.NextOffset,
		AdminIDs:        s.state.AdminIDs,
		IsCreator:       s.state.IsCreator,
		SortAscending:   res.SortAscending,
		TotalCount:      total,
		Version:         res.Version,
	}
	if st.AdminIDs == nil {
		st.AdminIDs = make(map[domain.PeerID]struct{})
	}
	return st
}

// LoadMore fetches the next roster page. The token must match the current
// pagination cursor; anything else is a logged no-op.
func (s *Session) LoadMore(token string) {
	s.do(func() {
		if s.state.NextFetchOffset == nil || *s.state.NextFetchOffset != token {
			log.Warn().Str("module", "core.processor").Str("token", token).Msg("loadMore token does not match cursor, ignoring")
			return
		}
		if s.loadingMore || s.resyncing {
			return
		}
		s.loadingMore = true
		epoch := s.resyncEpoch
		req := FetchRequest{Offset: token, Limit: s.pageSize, SortAscending: s.state.SortAscending}
		ctx := s.ctx
		go func() {
			res, err := s.backend.FetchParticipants(ctx, s.callID, req)
			s.do(func() { s.completeLoadMore(epoch, res, err) })
		}()
	})
}

// completeLoadMore merges a page via the ordering primitive. Existing
// entries win; the version only ever moves forward. A page issued before
// a resync that has since landed is stale wholesale and dropped.
func (s *Session) completeLoadMore(epoch uint64, res FetchResult, err error) {
	s.loadingMore = false
	if err != nil {
		log.Error().Err(err).Str("module", "core.processor").Msg("loadMore fetch failed")
		return
	}
	if epoch != s.resyncEpoch {
		log.Debug().Str("module", "core.processor").Msg("page superseded by resync, dropped")
		return
	}
	merged := mergeParticipants(s.state.Participants, res.Participants, s.state.SortAscending)
	total := res.TotalCount
	if total < len(merged) {
		total = len(merged)
	}
	next := s.state
	next.Participants = merged
	next.NextFetchOffset = res.NextOffset
	next.TotalCount = total
	if res.Version > next.Version {
		next.Version = res.Version
	}
	s.state = next
	log.Debug().Str("module", "core.processor").Int("participants", len(merged)).Msg("page merged")
	s.publish()
}
