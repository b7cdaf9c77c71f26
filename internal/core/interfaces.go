package core

import (
	"context"

	"github.com/dkeye/callsync/internal/domain"
)

// FetchRequest selects a page of the server-side roster. SSRCs narrows the
// fetch to specific media sources (backfill); Offset is the opaque
// pagination cursor from a previous response.
type FetchRequest struct {
	Offset        string
	SSRCs         []domain.SSRC
	Limit         int
	SortAscending bool
}

// FetchResult is one roster page as the server sees it.
type FetchResult struct {
	Participants  []domain.Participant
	NextOffset    *string
	TotalCount    int
	Version       int64
	SortAscending bool
}

// MutateRequest carries the desired changes for one participant.
// MuteState is the full desired state (nil means unmuted); a nil Volume
// is left untouched; RaiseHand, when set, makes this a hand request and
// mute/volume are ignored.
type MutateRequest struct {
	MuteState *domain.MuteState
	Volume    *int
	RaiseHand *bool
}

// SettingsMutation carries desired call-level changes. Fire-and-forget;
// the authoritative result arrives on the push stream.
type SettingsMutation struct {
	ShouldBeRecording           *bool
	RecordingTitle              *string
	DefaultParticipantsAreMuted *bool
}

// Backend abstracts the request/response side of the transport.
// Owned by the adapter; implementations must honor ctx cancellation.
type Backend interface {
	FetchParticipants(ctx context.Context, call domain.CallID, req FetchRequest) (FetchResult, error)
	MutateParticipant(ctx context.Context, call domain.CallID, peer domain.PeerID, req MutateRequest) (*UpdateBatch, error)
	MutateCallSettings(ctx context.Context, call domain.CallID, req SettingsMutation) error
}

// PeerDirectory resolves opaque peer ids to identity records. Reads are
// synchronous within the collaborator boundary.
type PeerDirectory interface {
	Resolve(id domain.PeerID) (domain.Peer, bool)
}

// ParticipantStatus is the membership transition carried by an update.
type ParticipantStatus int

const (
	StatusUnspecified ParticipantStatus = iota
	StatusJoined
	StatusLeft
)

func (s ParticipantStatus) String() string {
	switch s {
	case StatusJoined:
		return "joined"
	case StatusLeft:
		return "left"
	default:
		return "unspecified"
	}
}

// ParticipantUpdate is one per-participant entry of a delta. IsMin marks a
// minimal projection: the server omitted mute/volume detail, so locally
// known user-initiated values survive the merge.
type ParticipantUpdate struct {
	PeerID            domain.PeerID
	Status            ParticipantStatus
	SSRC              *domain.SSRC
	JoinTimestamp     int64
	ActivityTimestamp *float64
	RaiseHandRating   *int64
	MuteState         *domain.MuteState
	Volume            *int
	About             *string
	IsMin             bool
}

// UpdateBatch is one versioned delta from the push stream.
// RemovePendingMuteStates names peers whose optimistic overlay entries the
// server has confirmed or superseded.
type UpdateBatch struct {
	Updates                 []ParticipantUpdate
	Version                 int64
	RemovePendingMuteStates []domain.PeerID
}

// CallSettings is a call-level settings push frame. Nil fields are
// unchanged; ClearRecording distinguishes "stop recording" from "no
// change" since RecordingStartTimestamp is itself optional.
type CallSettings struct {
	Title                       *string
	RecordingStartTimestamp     *int64
	ClearRecording              bool
	DefaultParticipantsAreMuted *domain.DefaultMutePolicy
	SortAscending               *bool
}

// Update is one frame from the push stream: either a roster delta or a
// settings change, never both.
type Update struct {
	Batch    *UpdateBatch
	Settings *CallSettings
}

// MemberEventKind tags roster membership transitions.
type MemberEventKind int

const (
	MemberJoined MemberEventKind = iota
	MemberLeft
)

// MemberEvent is emitted on genuine first-appearance or removal of a
// participant, not on re-merges of already known peers.
type MemberEvent struct {
	Kind   MemberEventKind
	PeerID domain.PeerID
}
