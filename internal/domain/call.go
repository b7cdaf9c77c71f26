package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxPeerIDLen = 64

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
)

// DefaultMutePolicy is the call-level "participants join muted" setting.
type DefaultMutePolicy struct {
	IsMuted   bool `json:"is_muted"`
	CanChange bool `json:"can_change"`
}

// Peer is the identity record resolved from the peer store. The sync
// engine never owns these; it looks them up by id on demand.
type Peer struct {
	ID       PeerID `json:"id"`
	Username string `json:"username"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(id PeerID, username string) (*Peer, error) {
	if len(id) == 0 {
		return nil, ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return nil, ErrPeerIDTooLong
	}
	return &Peer{ID: id, Username: username}, nil
}

// NewCallID mints a fresh call identifier for locally created contexts.
func NewCallID() CallID { return CallID(uuid.NewString()) }
