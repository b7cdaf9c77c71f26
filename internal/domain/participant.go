// Package domain contains entity without logic, just meta-data
package domain

type (
	// PeerID is the opaque identifier the server keys participants by.
	PeerID string
	// CallID identifies one group call instance.
	CallID string
	// SSRC is the media-source id announced for a participant's audio.
	SSRC uint32
)

// MuteState describes a server-side mute. Absence of a MuteState on a
// participant means unmuted and not muted-by-you.
type MuteState struct {
	CanUnmute  bool `json:"can_unmute"`
	MutedByYou bool `json:"muted_by_you"`
}

// Participant is one call member as mirrored from the server, plus the
// local-only speaking annotations (ActivityTimestamp, ActivityRank).
type Participant struct {
	PeerID            PeerID     `json:"peer_id"`
	SSRC              *SSRC      `json:"ssrc,omitempty"`
	JoinTimestamp     int64      `json:"join_timestamp"`
	ActivityTimestamp *float64   `json:"activity_timestamp,omitempty"`
	ActivityRank      *int       `json:"activity_rank,omitempty"`
	RaiseHandRating   *int64     `json:"raise_hand_rating,omitempty"`
	MuteState         *MuteState `json:"mute_state,omitempty"`
	Volume            *int       `json:"volume,omitempty"`
	About             *string    `json:"about,omitempty"`
}

// HandRaised reports whether the participant currently has a raised hand.
func (p *Participant) HandRaised() bool { return p.RaiseHandRating != nil }

// Clone returns a deep copy so snapshots never alias pointer fields.
func (p Participant) Clone() Participant {
	out := p
	out.SSRC = clonePtr(p.SSRC)
	out.ActivityTimestamp = clonePtr(p.ActivityTimestamp)
	out.ActivityRank = clonePtr(p.ActivityRank)
	out.RaiseHandRating = clonePtr(p.RaiseHandRating)
	out.MuteState = clonePtr(p.MuteState)
	out.Volume = clonePtr(p.Volume)
	out.About = clonePtr(p.About)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
