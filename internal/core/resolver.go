package core

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/domain"
)

// EnsureHaveParticipants backfills participants referenced by audio
// activity but absent from the roster, identified by media source.
func (s *Session) EnsureHaveParticipants(ssrcs ...domain.SSRC) {
	s.do(func() { s.noteMissingSSRCs(ssrcs) })
}

// noteMissingSSRCs records unknown media sources and kicks the fetch loop.
// Sources already present in the roster are dropped here, so a fetch only
// ever carries genuinely missing ids.
func (s *Session) noteMissingSSRCs(ssrcs []domain.SSRC) {
	known := make(map[domain.SSRC]struct{}, len(s.state.Participants))
	for i := range s.state.Participants {
		if s.state.Participants[i].SSRC != nil {
			known[*s.state.Participants[i].SSRC] = struct{}{}
		}
	}
	added := false
	for _, ssrc := range ssrcs {
		if _, ok := known[ssrc]; ok {
			continue
		}
		if _, ok := s.missingSSRCs[ssrc]; ok {
			continue
		}
		s.missingSSRCs[ssrc] = struct{}{}
		added = true
	}
	if added {
		s.maybeFetchMissing()
	}
}

// maybeFetchMissing issues at most one outstanding backfill fetch. Ids
// discovered while a fetch is in flight wait for the next round.
func (s *Session) maybeFetchMissing() {
	if s.fetchingSSRCs || s.resyncing || len(s.missingSSRCs) == 0 {
		return
	}
	batch := make([]domain.SSRC, 0, len(s.missingSSRCs))
	for ssrc := range s.missingSSRCs {
		batch = append(batch, ssrc)
	}
	s.missingSSRCs = make(map[domain.SSRC]struct{})
	s.fetchingSSRCs = true

	log.Debug().Str("module", "core.resolver").Int("ssrcs", len(batch)).Msg("backfilling missing participants")
	req := FetchRequest{SSRCs: batch, Limit: s.pageSize, SortAscending: s.state.SortAscending}
	ctx := s.ctx
	go func() {
		res, err := s.backend.FetchParticipants(ctx, s.callID, req)
		s.do(func() { s.completeMissingFetch(res, err) })
	}()
}

// completeMissingFetch merges backfilled entries without disturbing the
// rest of the roster, then recurses for ids that accumulated meanwhile.
// A resync deferred behind the fetch runs once the drain is done.
func (s *Session) completeMissingFetch(res FetchResult, err error) {
	s.fetchingSSRCs = false
	if err != nil {
		log.Error().Err(err).Str("module", "core.resolver").Msg("backfill fetch failed")
	} else {
		merged := mergeParticipants(s.state.Participants, res.Participants, s.state.SortAscending)
		next := s.state
		next.Participants = merged
		if next.TotalCount < len(merged) {
			next.TotalCount = len(merged)
		}
		if res.Version > next.Version {
			next.Version = res.Version
		}
		s.state = next
		s.publish()
	}

	if s.shouldResync {
		s.shouldResync = false
		s.requestResync("deferred after backfill")
		return
	}
	s.maybeFetchMissing()
}
