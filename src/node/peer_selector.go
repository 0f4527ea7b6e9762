package node

import (
	"math/rand"

	"github.com/mosaicnetworks/echo/src/peers"
)

// PeerSelector defines and interface for Peer Selectors
type PeerSelector interface {
	Peers() *peers.PeerSet
	AddPeer(peer *peers.Peer) bool
	UpdateLast(addr string)
	Next() *peers.Peer
}

//+++++++++++++++++++++++++++++++++++++++
//RANDOM

// RandomPeerSelector selects peers at random, avoiding the peer it selected
// last when there is a choice.
type RandomPeerSelector struct {
	peers           *peers.PeerSet
	selfAddr        string
	selectablePeers []*peers.Peer
	last            string
}

// NewRandomPeerSelector is a factory method that returns a new instance of
// RandomPeerSelector. selfAddr is never selected.
func NewRandomPeerSelector(peerSet *peers.PeerSet, selfAddr string) *RandomPeerSelector {
	ps := &RandomPeerSelector{
		selfAddr: selfAddr,
	}
	ps.setPeers(peerSet)
	return ps
}

func (ps *RandomPeerSelector) setPeers(peerSet *peers.PeerSet) {
	_, selectablePeers := peers.ExcludePeer(peerSet.Peers, ps.selfAddr)
	ps.peers = peerSet
	ps.selectablePeers = selectablePeers
}

// Peers returns the set of peers, which may include the local address.
func (ps *RandomPeerSelector) Peers() *peers.PeerSet {
	return ps.peers
}

// AddPeer adds a peer to the selection. It returns false if the peer was
// already known.
func (ps *RandomPeerSelector) AddPeer(peer *peers.Peer) bool {
	if ps.peers.Has(peer.NetAddr) {
		return false
	}
	ps.setPeers(ps.peers.WithNewPeer(peer))
	return true
}

// UpdateLast sets the last peer
func (ps *RandomPeerSelector) UpdateLast(addr string) {
	ps.last = addr
}

// Next returns the next peer, or nil if there is no peer to select.
func (ps *RandomPeerSelector) Next() *peers.Peer {
	selectablePeers := ps.selectablePeers

	if len(selectablePeers) == 0 {
		return nil
	}

	if len(selectablePeers) > 1 {
		_, selectablePeers = peers.ExcludePeer(selectablePeers, ps.last)
	}

	i := rand.Intn(len(selectablePeers))

	return selectablePeers[i]
}
