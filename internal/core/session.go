package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/domain"
)

var (
	ErrNoBackend       = errors.New("backend is required")
	ErrNoPeerDirectory = errors.New("peer directory is required")
	ErrNoSelfPeer      = errors.New("self peer id is required")
)

const (
	defaultPageSize        = 50
	defaultDecayInterval   = 10 * time.Second
	defaultActivityTimeout = 60 * time.Second
)

// Options configures a Session. CallID, SelfPeerID, Backend and Peers are
// required; everything else has defaults.
type Options struct {
	CallID     domain.CallID
	SelfPeerID domain.PeerID
	Backend    Backend
	Peers      PeerDirectory

	// Initial seeds the state without a network round trip. When nil the
	// session performs an initial snapshot fetch asynchronously.
	Initial *FetchResult

	Clock           clockwork.Clock
	PageSize        int
	DecayInterval   time.Duration
	ActivityTimeout time.Duration
	SortAscending   bool
	IsCreator       bool

	// StrictPeers makes an unresolvable peer reference panic instead of
	// being skipped. Only for tests.
	StrictPeers bool
}

// Session is the per-call participant mirror. All state lives behind a
// single run goroutine; public methods post commands onto it and async
// completions re-enter the same way, so no locks guard State.
type Session struct {
	callID  domain.CallID
	self    domain.PeerID
	backend Backend
	peers   PeerDirectory
	clock   clockwork.Clock

	pageSize        int
	decayInterval   time.Duration
	activityTimeout time.Duration
	strictPeers     bool

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the run goroutine.
	state            State
	overlay          overlayState
	queue            []UpdateBatch
	resyncing        bool
	resyncEpoch      uint64
	shouldResync     bool
	loadingMore      bool
	missingSSRCs     map[domain.SSRC]struct{}
	fetchingSSRCs    bool
	nextActivityRank int
	nextMutationID   uint64
	lastSpeakers     []domain.PeerID

	stateSubs   map[chan State]struct{}
	memberSubs  map[chan MemberEvent]struct{}
	speakerSubs map[chan []domain.PeerID]struct{}
}

// NewSession builds the mirror and starts its run loop. When opts.Initial
// is nil the roster arrives via an initial snapshot fetch; subscribers see
// it as the first state change.
func NewSession(parent context.Context, opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, ErrNoBackend
	}
	if opts.Peers == nil {
		return nil, ErrNoPeerDirectory
	}
	if opts.SelfPeerID == "" {
		return nil, ErrNoSelfPeer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.DecayInterval <= 0 {
		opts.DecayInterval = defaultDecayInterval
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = defaultActivityTimeout
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		callID:           opts.CallID,
		self:             opts.SelfPeerID,
		backend:          opts.Backend,
		peers:            opts.Peers,
		clock:            opts.Clock,
		pageSize:         opts.PageSize,
		decayInterval:    opts.DecayInterval,
		activityTimeout:  opts.ActivityTimeout,
		strictPeers:      opts.StrictPeers,
		ctx:              ctx,
		cancel:           cancel,
		cmds:             make(chan func(), 64),
		done:             make(chan struct{}),
		overlay:          newOverlayState(),
		missingSSRCs:     make(map[domain.SSRC]struct{}),
		nextActivityRank: 1,
		stateSubs:        make(map[chan State]struct{}),
		memberSubs:       make(map[chan MemberEvent]struct{}),
		speakerSubs:      make(map[chan []domain.PeerID]struct{}),
	}
	s.state = State{
		AdminIDs:      make(map[domain.PeerID]struct{}),
		SortAscending: opts.SortAscending,
		IsCreator:     opts.IsCreator,
	}
	if opts.Initial != nil {
		s.state = s.stateFromSnapshot(*opts.Initial)
	}

	go s.run()

	if opts.Initial == nil {
		s.do(func() { s.requestResync("initial load") })
	}
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	ticker := s.clock.NewTicker(s.decayInterval)
	defer ticker.Stop()

	log.Info().Str("module", "core.session").Str("call", string(s.callID)).Msg("session started")
	for {
		select {
		case <-s.ctx.Done():
			log.Info().Str("module", "core.session").Str("call", string(s.callID)).Msg("session stopping")
			return
		case fn := <-s.cmds:
			fn()
		case <-ticker.Chan():
			s.sweepActivityRanks()
		}
	}
}

func (s *Session) teardown() {
	for id, pending := range s.overlay.pendingMuteChanges {
		pending.cancel()
		delete(s.overlay.pendingMuteChanges, id)
	}
	for ch := range s.stateSubs {
		close(ch)
	}
	for ch := range s.memberSubs {
		close(ch)
	}
	for ch := range s.speakerSubs {
		close(ch)
	}
}

// do posts fn onto the run loop. Returns false when the session is closed
// and fn will never run.
func (s *Session) do(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close tears the whole context down: cancels in-flight requests, stops
// the decay ticker and closes every subscription channel exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// CurrentState returns the effective view, or false if the session is
// closed.
func (s *Session) CurrentState() (State, bool) {
	ch := make(chan State, 1)
	if !s.do(func() { ch <- s.effective() }) {
		return State{}, false
	}
	select {
	case st := <-ch:
		return st, true
	case <-s.done:
		return State{}, false
	}
}

// SubscribeState returns a latest-wins stream of effective views. The
// channel is seeded with the current view and closed on session Close.
func (s *Session) SubscribeState() <-chan State {
	ch := make(chan State, 1)
	if !s.do(func() {
		s.stateSubs[ch] = struct{}{}
		sendLatest(ch, s.effective())
	}) {
		close(ch)
	}
	return ch
}

// SubscribeMemberEvents returns a best-effort stream of joined/left
// events. Slow consumers lose events rather than block the session.
func (s *Session) SubscribeMemberEvents() <-chan MemberEvent {
	ch := make(chan MemberEvent, 16)
	if !s.do(func() { s.memberSubs[ch] = struct{}{} }) {
		close(ch)
	}
	return ch
}

// SubscribeActiveSpeakers returns a latest-wins stream of the ordered
// rank-holding peer ids, emitted whenever the set or its order changes.
func (s *Session) SubscribeActiveSpeakers() <-chan []domain.PeerID {
	ch := make(chan []domain.PeerID, 1)
	if !s.do(func() {
		s.speakerSubs[ch] = struct{}{}
		sendLatest(ch, s.lastSpeakers)
	}) {
		close(ch)
	}
	return ch
}

// effective computes the read-time projection for the local viewer.
func (s *Session) effective() State {
	return effectiveState(s.state, s.overlay, s.state.IsAdmin(s.self, s.self))
}

// publish fans the new effective view out to subscribers and re-derives
// the active speaker list.
func (s *Session) publish() {
	eff := s.effective()
	for ch := range s.stateSubs {
		sendLatest(ch, eff)
	}

	speakers := activeSpeakers(s.state.Participants)
	if !samePeers(speakers, s.lastSpeakers) {
		s.lastSpeakers = speakers
		for ch := range s.speakerSubs {
			sendLatest(ch, speakers)
		}
	}
}

func (s *Session) emitMemberEvents(events []MemberEvent) {
	for _, ev := range events {
		for ch := range s.memberSubs {
			select {
			case ch <- ev:
			default:
				log.Warn().Str("module", "core.session").Str("peer", string(ev.PeerID)).Msg("member event dropped, slow consumer")
			}
		}
	}
}

func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// activeSpeakers lists rank holders in roster order. Participants are
// already rank-sorted, so the slice order is the display order.
func activeSpeakers(list []domain.Participant) []domain.PeerID {
	var out []domain.PeerID
	for i := range list {
		if list[i].ActivityRank != nil {
			out = append(out, list[i].PeerID)
		}
	}
	return out
}

func samePeers(a, b []domain.PeerID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UpdateAdminIDs replaces the admin set. A viewer gaining or losing admin
// rights changes the raise-hand projection, so the view is republished.
func (s *Session) UpdateAdminIDs(ids []domain.PeerID) {
	s.do(func() {
		admins := make(map[domain.PeerID]struct{}, len(ids))
		for _, id := range ids {
			admins[id] = struct{}{}
		}
		s.state.AdminIDs = admins
		log.Debug().Str("module", "core.session").Int("admins", len(admins)).Msg("admin set replaced")
		s.publish()
	})
}

// ReportSpeakingParticipants records speaking activity. Known peers get
// their activity timestamp bumped and, if not already ranked, a fresh
// monotonic activity rank. Unknown media sources are queued for backfill.
func (s *Session) ReportSpeakingParticipants(speaking map[domain.PeerID]domain.SSRC) {
	s.do(func() {
		now := s.nowSeconds()
		changed := false
		var missing []domain.SSRC
		participants := cloneParticipants(s.state.Participants)
		byID := make(map[domain.PeerID]int, len(participants))
		for i := range participants {
			byID[participants[i].PeerID] = i
		}
		// Deterministic rank assignment regardless of map order.
		ids := make([]domain.PeerID, 0, len(speaking))
		for peer := range speaking {
			ids = append(ids, peer)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, peer := range ids {
			idx, ok := byID[peer]
			if !ok {
				missing = append(missing, speaking[peer])
				continue
			}
			p := &participants[idx]
			if p.ActivityTimestamp == nil || *p.ActivityTimestamp < now {
				ts := now
				p.ActivityTimestamp = &ts
				changed = true
			}
			if p.ActivityRank == nil {
				rank := s.nextActivityRank
				s.nextActivityRank++
				p.ActivityRank = &rank
				changed = true
			}
		}
		if changed {
			sortParticipants(participants, s.state.SortAscending)
			s.state.Participants = participants
			s.publish()
		}
		if len(missing) > 0 {
			s.noteMissingSSRCs(missing)
		}
	})
}

// UpdateShouldBeRecording toggles call recording optimistically and tells
// the server; the authoritative settings frame replaces the local guess.
func (s *Session) UpdateShouldBeRecording(record bool, title string) {
	s.do(func() {
		if record {
			ts := s.clock.Now().Unix()
			s.state.RecordingStartTimestamp = &ts
			s.state.Title = &title
		} else {
			s.state.RecordingStartTimestamp = nil
		}
		s.publish()
		s.fireSettingsMutation(SettingsMutation{ShouldBeRecording: &record, RecordingTitle: &title})
	})
}

// UpdateDefaultParticipantsAreMuted toggles the join-muted policy
// optimistically and tells the server.
func (s *Session) UpdateDefaultParticipantsAreMuted(isMuted bool) {
	s.do(func() {
		s.state.DefaultParticipantsAreMuted.IsMuted = isMuted
		s.publish()
		s.fireSettingsMutation(SettingsMutation{DefaultParticipantsAreMuted: &isMuted})
	})
}

func (s *Session) fireSettingsMutation(req SettingsMutation) {
	ctx := s.ctx
	go func() {
		if err := s.backend.MutateCallSettings(ctx, s.callID, req); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("module", "core.session").Msg("settings mutation failed")
		}
	}()
}

// applySettings handles an authoritative call-settings push frame.
func (s *Session) applySettings(cs CallSettings) {
	if cs.Title != nil {
		s.state.Title = cs.Title
	}
	if cs.ClearRecording {
		s.state.RecordingStartTimestamp = nil
	} else if cs.RecordingStartTimestamp != nil {
		s.state.RecordingStartTimestamp = cs.RecordingStartTimestamp
	}
	if cs.DefaultParticipantsAreMuted != nil {
		s.state.DefaultParticipantsAreMuted = *cs.DefaultParticipantsAreMuted
	}
	if cs.SortAscending != nil && *cs.SortAscending != s.state.SortAscending {
		s.state.SortAscending = *cs.SortAscending
		participants := cloneParticipants(s.state.Participants)
		sortParticipants(participants, s.state.SortAscending)
		s.state.Participants = participants
	}
	s.publish()
}

func (s *Session) nowSeconds() float64 {
	return float64(s.clock.Now().UnixNano()) / float64(time.Second)
}
