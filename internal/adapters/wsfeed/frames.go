package wsfeed

import (
	"github.com/dkeye/callsync/internal/core"
	"github.com/dkeye/callsync/internal/domain"
)

// Wire frames for the push stream. The envelope type field discriminates;
// peers piggyback identity records for ids the frame references.
type envelope struct {
	Type     string         `json:"type"`
	Peers    []peerFrame    `json:"peers,omitempty"`
	Updates  *updatesFrame  `json:"updates,omitempty"`
	Settings *settingsFrame `json:"settings,omitempty"`
}

type peerFrame struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type updatesFrame struct {
	Version                 int64              `json:"version"`
	Participants            []participantFrame `json:"participants"`
	RemovePendingMuteStates []string           `json:"remove_pending_mute_states,omitempty"`
}

type participantFrame struct {
	PeerID            string            `json:"peer_id"`
	Status            string            `json:"status,omitempty"`
	SSRC              *uint32           `json:"ssrc,omitempty"`
	JoinTimestamp     int64             `json:"join_timestamp"`
	ActivityTimestamp *float64          `json:"activity_timestamp,omitempty"`
	RaiseHandRating   *int64            `json:"raise_hand_rating,omitempty"`
	MuteState         *domain.MuteState `json:"mute_state,omitempty"`
	Volume            *int              `json:"volume,omitempty"`
	About             *string           `json:"about,omitempty"`
	IsMin             bool              `json:"is_min,omitempty"`
}

type settingsFrame struct {
	Title                       *string                   `json:"title,omitempty"`
	RecordingStartTimestamp     *int64                    `json:"recording_start_timestamp,omitempty"`
	ClearRecording              bool                      `json:"clear_recording,omitempty"`
	DefaultParticipantsAreMuted *domain.DefaultMutePolicy `json:"default_participants_are_muted,omitempty"`
	SortAscending               *bool                     `json:"sort_ascending,omitempty"`
}

func (u *updatesFrame) toBatch() *core.UpdateBatch {
	batch := &core.UpdateBatch{Version: u.Version}
	for _, p := range u.Participants {
		update := core.ParticipantUpdate{
			PeerID:            domain.PeerID(p.PeerID),
			Status:            parseStatus(p.Status),
			JoinTimestamp:     p.JoinTimestamp,
			ActivityTimestamp: p.ActivityTimestamp,
			RaiseHandRating:   p.RaiseHandRating,
			MuteState:         p.MuteState,
			Volume:            p.Volume,
			About:             p.About,
			IsMin:             p.IsMin,
		}
		if p.SSRC != nil {
			ssrc := domain.SSRC(*p.SSRC)
			update.SSRC = &ssrc
		}
		batch.Updates = append(batch.Updates, update)
	}
	for _, id := range u.RemovePendingMuteStates {
		batch.RemovePendingMuteStates = append(batch.RemovePendingMuteStates, domain.PeerID(id))
	}
	return batch
}

func parseStatus(s string) core.ParticipantStatus {
	switch s {
	case "joined":
		return core.StatusJoined
	case "left":
		return core.StatusLeft
	default:
		return core.StatusUnspecified
	}
}

func (s *settingsFrame) toSettings() *core.CallSettings {
	return &core.CallSettings{
		Title:                       s.Title,
		RecordingStartTimestamp:     s.RecordingStartTimestamp,
		ClearRecording:              s.ClearRecording,
		DefaultParticipantsAreMuted: s.DefaultParticipantsAreMuted,
		SortAscending:               s.SortAscending,
	}
}
