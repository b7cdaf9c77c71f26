package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/callsync/internal/domain"
)

func TestEnsureHaveParticipantsDeduplicatesKnownSources(t *testing.T) {
	seed := initialRoster()
	seed.Participants[0].SSRC = ssrcptr(11)
	f := newFixture(t, seed, nil)

	f.session.EnsureHaveParticipants(11)
	f.barrier(t)
	require.Equal(t, 0, f.backend.fetchCount(), "known ssrc must not trigger a fetch")
}

func TestBackfillMergesWithoutDisturbingRoster(t *testing.T) {
	f := newFixture(t, initialRoster(), nil)
	f.backend.fetchFn = func(req FetchRequest) (FetchResult, error) {
		return FetchResult{
			Participants: []domain.Participant{
				{PeerID: "C", JoinTimestamp: 150, SSRC: ssrcptr(33)},
			},
			TotalCount: 3,
			Version:    1,
		}, nil
	}

	f.session.EnsureHaveParticipants(33)
	require.Eventually(t, func() bool { return f.state(t).Find("C") != nil }, time.Second, 5*time.Millisecond)

	st := f.state(t)
	require.Equal(t, []domain.PeerID{"B", "C", "A"}, peerIDs(st.Participants))
	require.Equal(t, []domain.SSRC{33}, f.backend.fetchAt(0).SSRCs)
	require.Equal(t, int64(100), st.Find("A").JoinTimestamp)
}

func TestBackfillSingleFlightAndDrain(t *testing.T) {
	f := newFixture(t, initialRoster(), nil)

	release := make(chan struct{})
	f.backend.fetchFn = func(req FetchRequest) (FetchResult, error) {
		<-release
		return FetchResult{Version: 1}, nil
	}

	f.session.EnsureHaveParticipants(41)
	require.Eventually(t, func() bool { return f.backend.fetchCount() == 1 }, time.Second, 5*time.Millisecond)

	// Sources discovered mid-flight queue for the next round.
	f.session.EnsureHaveParticipants(42, 43)
	f.barrier(t)
	require.Equal(t, 1, f.backend.fetchCount(), "at most one outstanding fetch")

	release <- struct{}{}
	require.Eventually(t, func() bool { return f.backend.fetchCount() == 2 }, time.Second, 5*time.Millisecond)
	release <- struct{}{}

	require.Eventually(t, func() bool {
		second := f.backend.fetchAt(1)
		return len(second.SSRCs) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestResyncDeferredBehindBackfill(t *testing.T) {
	f := newFixture(t, initialRoster(), nil)

	release := make(chan struct{})
	f.backend.fetchFn = func(req FetchRequest) (FetchResult, error) {
		if len(req.SSRCs) > 0 {
			<-release
			return FetchResult{Version: 1}, nil
		}
		return FetchResult{
			Participants: []domain.Participant{part("Z", 5)},
			TotalCount:   1,
			Version:      8,
		}, nil
	}

	f.session.EnsureHaveParticipants(50)
	require.Eventually(t, func() bool { return f.backend.fetchCount() == 1 }, time.Second, 5*time.Millisecond)

	// Gap while the backfill is outstanding: resync must wait.
	f.session.AddUpdates(Update{Batch: &UpdateBatch{Version: 7}})
	f.barrier(t)
	require.Equal(t, 1, f.backend.fetchCount(), "resync deferred, not interleaved")
	require.Equal(t, int64(1), f.state(t).Version)

	close(release)
	require.Eventually(t, func() bool { return f.state(t).Version == 8 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, f.state(t).Find("Z"))
	require.Equal(t, 2, f.backend.fetchCount())
}
