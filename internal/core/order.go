package core

import (
	"sort"

	"github.com/dkeye/callsync/internal/domain"
)

// Less establishes the total order over participants. Priority, highest
// first: activity rank, activity timestamp, raise-hand rating, join
// timestamp (direction per sortAscending), then peer id as the final
// tie-break so the order is deterministic.
func Less(a, b *domain.Participant, sortAscending bool) bool {
	switch {
	case a.ActivityRank != nil && b.ActivityRank == nil:
		return true
	case a.ActivityRank == nil && b.ActivityRank != nil:
		return false
	case a.ActivityRank != nil && b.ActivityRank != nil:
		if *a.ActivityRank != *b.ActivityRank {
			return *a.ActivityRank < *b.ActivityRank
		}
	}

	switch {
	case a.ActivityTimestamp != nil && b.ActivityTimestamp == nil:
		return true
	case a.ActivityTimestamp == nil && b.ActivityTimestamp != nil:
		return false
	case a.ActivityTimestamp != nil && b.ActivityTimestamp != nil:
		if *a.ActivityTimestamp != *b.ActivityTimestamp {
			return *a.ActivityTimestamp > *b.ActivityTimestamp
		}
	}

	switch {
	case a.RaiseHandRating != nil && b.RaiseHandRating == nil:
		return true
	case a.RaiseHandRating == nil && b.RaiseHandRating != nil:
		return false
	case a.RaiseHandRating != nil && b.RaiseHandRating != nil:
		if *a.RaiseHandRating != *b.RaiseHandRating {
			return *a.RaiseHandRating > *b.RaiseHandRating
		}
	}

	if a.JoinTimestamp != b.JoinTimestamp {
		if sortAscending {
			return a.JoinTimestamp < b.JoinTimestamp
		}
		return a.JoinTimestamp > b.JoinTimestamp
	}

	return a.PeerID < b.PeerID
}

// sortParticipants re-sorts the list in place. Callers must re-sort after
// every mutation that can affect ranking.
func sortParticipants(list []domain.Participant, sortAscending bool) {
	sort.SliceStable(list, func(i, j int) bool {
		return Less(&list[i], &list[j], sortAscending)
	})
}

// mergeParticipants unions current and incoming by peer id. Existing
// entries win on conflict; incoming entries contribute additions only.
// The result is freshly sorted. This is the one merge primitive shared by
// backfill and pagination.
func mergeParticipants(current, incoming []domain.Participant, sortAscending bool) []domain.Participant {
	out := make([]domain.Participant, 0, len(current)+len(incoming))
	seen := make(map[domain.PeerID]struct{}, len(current))
	for _, p := range current {
		out = append(out, p)
		seen[p.PeerID] = struct{}{}
	}
	for _, p := range incoming {
		if _, ok := seen[p.PeerID]; ok {
			continue
		}
		seen[p.PeerID] = struct{}{}
		out = append(out, p.Clone())
	}
	sortParticipants(out, sortAscending)
	return out
}
