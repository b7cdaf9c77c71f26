// Package backendhttp implements the core.Backend port against the
// backend's JSON HTTP API.
package backendhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/callsync/internal/core"
	"github.com/dkeye/callsync/internal/domain"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Peers receives identity records piggybacked on fetch responses so
	// the directory can resolve every participant the roster names.
	Peers interface{ Put(domain.Peer) }
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type fetchResponse struct {
	Participants []participantRecord `json:"participants"`
	Peers        []peerRecord        `json:"peers,omitempty"`
	NextOffset   *string             `json:"next_offset,omitempty"`
	TotalCount   int                 `json:"total_count"`
	Version      int64               `json:"version"`
	SortAsc      bool                `json:"sort_ascending"`
}

type participantRecord struct {
	PeerID            string            `json:"peer_id"`
	SSRC              *uint32           `json:"ssrc,omitempty"`
	JoinTimestamp     int64             `json:"join_timestamp"`
	RaiseHandRating   *int64            `json:"raise_hand_rating,omitempty"`
	MuteState         *domain.MuteState `json:"mute_state,omitempty"`
	Volume            *int              `json:"volume,omitempty"`
	About             *string           `json:"about,omitempty"`
}

type peerRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (c *Client) FetchParticipants(ctx context.Context, call domain.CallID, req core.FetchRequest) (core.FetchResult, error) {
	u := fmt.Sprintf("%s/calls/%s/participants?limit=%d&sort_ascending=%t",
		c.BaseURL, call, req.Limit, req.SortAscending)
	if req.Offset != "" {
		u += "&offset=" + req.Offset
	}
	if len(req.SSRCs) > 0 {
		parts := make([]string, len(req.SSRCs))
		for i, s := range req.SSRCs {
			parts[i] = strconv.FormatUint(uint64(s), 10)
		}
		u += "&ssrcs=" + strings.Join(parts, ",")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return core.FetchResult{}, err
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return core.FetchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.FetchResult{}, fmt.Errorf("fetch participants: unexpected status %d", resp.StatusCode)
	}

	var body fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.FetchResult{}, fmt.Errorf("fetch participants: decode: %w", err)
	}
	if c.Peers != nil {
		for _, p := range body.Peers {
			c.Peers.Put(domain.Peer{ID: domain.PeerID(p.ID), Username: p.Username})
		}
	}

	out := core.FetchResult{
		NextOffset:    body.NextOffset,
		TotalCount:    body.TotalCount,
		Version:       body.Version,
		SortAscending: body.SortAsc,
	}
	for _, rec := range body.Participants {
		p := domain.Participant{
			PeerID:          domain.PeerID(rec.PeerID),
			JoinTimestamp:   rec.JoinTimestamp,
			RaiseHandRating: rec.RaiseHandRating,
			MuteState:       rec.MuteState,
			Volume:          rec.Volume,
			About:           rec.About,
		}
		if rec.SSRC != nil {
			ssrc := domain.SSRC(*rec.SSRC)
			p.SSRC = &ssrc
		}
		out.Participants = append(out.Participants, p)
	}
	return out, nil
}

type mutateBody struct {
	MuteState *domain.MuteState `json:"mute_state,omitempty"`
	Volume    *int              `json:"volume,omitempty"`
	RaiseHand *bool             `json:"raise_hand,omitempty"`
}

type mutateResponse struct {
	Version                 int64               `json:"version"`
	Participants            []participantRecord `json:"participants"`
	RemovePendingMuteStates []string            `json:"remove_pending_mute_states,omitempty"`
}

func (c *Client) MutateParticipant(ctx context.Context, call domain.CallID, peer domain.PeerID, req core.MutateRequest) (*core.UpdateBatch, error) {
	u := fmt.Sprintf("%s/calls/%s/participants/%s", c.BaseURL, call, peer)
	payload, err := json.Marshal(mutateBody{MuteState: req.MuteState, Volume: req.Volume, RaiseHand: req.RaiseHand})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mutate participant: unexpected status %d", resp.StatusCode)
	}

	var body mutateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("mutate participant: decode: %w", err)
	}
	batch := &core.UpdateBatch{Version: body.Version}
	for _, rec := range body.Participants {
		update := core.ParticipantUpdate{
			PeerID:          domain.PeerID(rec.PeerID),
			JoinTimestamp:   rec.JoinTimestamp,
			RaiseHandRating: rec.RaiseHandRating,
			MuteState:       rec.MuteState,
			Volume:          rec.Volume,
			About:           rec.About,
		}
		if rec.SSRC != nil {
			ssrc := domain.SSRC(*rec.SSRC)
			update.SSRC = &ssrc
		}
		batch.Updates = append(batch.Updates, update)
	}
	for _, id := range body.RemovePendingMuteStates {
		batch.RemovePendingMuteStates = append(batch.RemovePendingMuteStates, domain.PeerID(id))
	}
	return batch, nil
}

type settingsBody struct {
	ShouldBeRecording           *bool   `json:"should_be_recording,omitempty"`
	RecordingTitle              *string `json:"recording_title,omitempty"`
	DefaultParticipantsAreMuted *bool   `json:"default_participants_are_muted,omitempty"`
}

func (c *Client) MutateCallSettings(ctx context.Context, call domain.CallID, req core.SettingsMutation) error {
	u := fmt.Sprintf("%s/calls/%s/settings", c.BaseURL, call)
	payload, err := json.Marshal(settingsBody{
		ShouldBeRecording:           req.ShouldBeRecording,
		RecordingTitle:              req.RecordingTitle,
		DefaultParticipantsAreMuted: req.DefaultParticipantsAreMuted,
	})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mutate call settings: unexpected status %d", resp.StatusCode)
	}
	return nil
}
