package wsfeed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/callsync/internal/core"
	"github.com/dkeye/callsync/internal/domain"
)

func TestDecodeUpdatesFrame(t *testing.T) {
	raw := []byte(`{
		"type": "updates",
		"peers": [{"id": "p1", "username": "alice"}],
		"updates": {
			"version": 7,
			"participants": [
				{"peer_id": "p1", "status": "joined", "ssrc": 42, "join_timestamp": 100,
				 "mute_state": {"can_unmute": true, "muted_by_you": false}, "volume": 80},
				{"peer_id": "p2", "status": "left", "join_timestamp": 50},
				{"peer_id": "p3", "join_timestamp": 60, "is_min": true}
			],
			"remove_pending_mute_states": ["p1"]
		}
	}`)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "updates", env.Type)
	require.Len(t, env.Peers, 1)
	require.Equal(t, "alice", env.Peers[0].Username)

	batch := env.Updates.toBatch()
	require.Equal(t, int64(7), batch.Version)
	require.Len(t, batch.Updates, 3)

	p1 := batch.Updates[0]
	require.Equal(t, domain.PeerID("p1"), p1.PeerID)
	require.Equal(t, core.StatusJoined, p1.Status)
	require.Equal(t, domain.SSRC(42), *p1.SSRC)
	require.True(t, p1.MuteState.CanUnmute)
	require.Equal(t, 80, *p1.Volume)

	require.Equal(t, core.StatusLeft, batch.Updates[1].Status)
	require.Equal(t, core.StatusUnspecified, batch.Updates[2].Status)
	require.True(t, batch.Updates[2].IsMin)

	require.Equal(t, []domain.PeerID{"p1"}, batch.RemovePendingMuteStates)
}

func TestDecodeSettingsFrame(t *testing.T) {
	raw := []byte(`{
		"type": "settings",
		"settings": {
			"title": "standup",
			"recording_start_timestamp": 1234,
			"default_participants_are_muted": {"is_muted": true, "can_change": false},
			"sort_ascending": true
		}
	}`)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "settings", env.Type)

	cs := env.Settings.toSettings()
	require.Equal(t, "standup", *cs.Title)
	require.Equal(t, int64(1234), *cs.RecordingStartTimestamp)
	require.False(t, cs.ClearRecording)
	require.True(t, cs.DefaultParticipantsAreMuted.IsMuted)
	require.True(t, *cs.SortAscending)
}

func TestUnknownStatusDecodesAsUnspecified(t *testing.T) {
	require.Equal(t, core.StatusUnspecified, parseStatus("banana"))
	require.Equal(t, core.StatusUnspecified, parseStatus(""))
}
