package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callsync/internal/domain"
)

func iptr(v int) *int         { return &v }
func i64ptr(v int64) *int64   { return &v }
func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

func ssrcptr(v uint32) *domain.SSRC {
	s := domain.SSRC(v)
	return &s
}

func part(id string, join int64) domain.Participant {
	return domain.Participant{PeerID: domain.PeerID(id), JoinTimestamp: join}
}

// fakeDirectory resolves every id unless explicitly excluded.
type fakeDirectory struct {
	mu      sync.Mutex
	unknown map[domain.PeerID]struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{unknown: make(map[domain.PeerID]struct{})}
}

func (d *fakeDirectory) forget(id domain.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unknown[id] = struct{}{}
}

func (d *fakeDirectory) Resolve(id domain.PeerID) (domain.Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.unknown[id]; ok {
		return domain.Peer{}, false
	}
	return domain.Peer{ID: id, Username: string(id)}, true
}

type fakeBackend struct {
	mu       sync.Mutex
	fetches  []FetchRequest
	fetchFn  func(FetchRequest) (FetchResult, error)
	mutates  []MutateRequest
	mutateFn func(context.Context, domain.PeerID, MutateRequest) (*UpdateBatch, error)
	settings []SettingsMutation
}

func (b *fakeBackend) FetchParticipants(_ context.Context, _ domain.CallID, req FetchRequest) (FetchResult, error) {
	b.mu.Lock()
	b.fetches = append(b.fetches, req)
	fn := b.fetchFn
	b.mu.Unlock()
	if fn == nil {
		return FetchResult{}, nil
	}
	return fn(req)
}

func (b *fakeBackend) MutateParticipant(ctx context.Context, _ domain.CallID, peer domain.PeerID, req MutateRequest) (*UpdateBatch, error) {
	b.mu.Lock()
	b.mutates = append(b.mutates, req)
	fn := b.mutateFn
	b.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, peer, req)
}

func (b *fakeBackend) MutateCallSettings(_ context.Context, _ domain.CallID, req SettingsMutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = append(b.settings, req)
	return nil
}

func (b *fakeBackend) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fetches)
}

func (b *fakeBackend) fetchAt(i int) FetchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches[i]
}

func (b *fakeBackend) settingsCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.settings)
}

type sessionFixture struct {
	session *Session
	backend *fakeBackend
	dir     *fakeDirectory
	clock   clockwork.FakeClock
}

// newFixture seeds the session with an initial snapshot so tests start
// from a known state without an initial fetch round trip.
func newFixture(t *testing.T, initial FetchResult, mod func(*Options)) *sessionFixture {
	t.Helper()
	backend := &fakeBackend{}
	dir := newFakeDirectory()
	clock := clockwork.NewFakeClockAt(time.Unix(1_000_000, 0))
	opts := Options{
		CallID:      "call-1",
		SelfPeerID:  "self",
		Backend:     backend,
		Peers:       dir,
		Clock:       clock,
		Initial:     &initial,
		StrictPeers: false,
	}
	if mod != nil {
		mod(&opts)
	}
	s, err := NewSession(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &sessionFixture{session: s, backend: backend, dir: dir, clock: clock}
}

// barrier waits until every previously posted command has run.
func (f *sessionFixture) barrier(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, f.session.do(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session run loop stalled")
	}
}

func (f *sessionFixture) pendingOverlayCount(t *testing.T) int {
	t.Helper()
	ch := make(chan int, 1)
	require.True(t, f.session.do(func() { ch <- len(f.session.overlay.pendingMuteChanges) }))
	return <-ch
}

func (f *sessionFixture) pageFetchInFlight(t *testing.T) bool {
	t.Helper()
	ch := make(chan bool, 1)
	require.True(t, f.session.do(func() { ch <- f.session.loadingMore }))
	return <-ch
}

func (f *sessionFixture) state(t *testing.T) State {
	t.Helper()
	st, ok := f.session.CurrentState()
	require.True(t, ok)
	return st
}

func peerIDs(list []domain.Participant) []domain.PeerID {
	out := make([]domain.PeerID, len(list))
	for i := range list {
		out[i] = list[i].PeerID
	}
	return out
}
