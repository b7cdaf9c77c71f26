// Package peerdir is an in-memory peer identity store. The sync engine
// only reads from it; adapters feed it from fetch responses and update
// frames.
package peerdir

import (
	"sync"

	"github.com/dkeye/callsync/internal/domain"
)

type Directory struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]domain.Peer
}

func New() *Directory {
	return &Directory{peers: make(map[domain.PeerID]domain.Peer)}
}

func (d *Directory) Put(peer domain.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[peer.ID] = peer
}

func (d *Directory) Resolve(id domain.PeerID) (domain.Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	return p, ok
}
