package peers

import (
	"bytes"
	"encoding/json"
	"sort"
)

// PeerSet is an immutable set of Peers indexed by address. Methods that change
// the set return a new PeerSet.
type PeerSet struct {
	Peers  []*Peer          `json:"peers"`
	ByAddr map[string]*Peer `json:"-"`
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers. Peers without an
// address are ignored, and only the first Peer with a given address is kept.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		Peers:  []*Peer{},
		ByAddr: make(map[string]*Peer),
	}

	for _, peer := range peers {
		if peer == nil || peer.NetAddr == "" {
			continue
		}
		if _, ok := peerSet.ByAddr[peer.NetAddr]; ok {
			continue
		}
		peerSet.ByAddr[peer.NetAddr] = peer
		peerSet.Peers = append(peerSet.Peers, peer)
	}

	return peerSet
}

// NewPeerSetFromAddrs creates a PeerSet of anonymous peers.
func NewPeerSetFromAddrs(addrs []string) *PeerSet {
	peers := make([]*Peer, 0, len(addrs))
	for _, a := range addrs {
		peers = append(peers, NewPeer(a, ""))
	}
	return NewPeerSet(peers)
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a peerSlice in Bytes
// format.
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	dec := json.NewDecoder(bytes.NewBuffer(peerSliceBytes))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet with a list of peers including the new one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := make([]*Peer, len(peerSet.Peers), len(peerSet.Peers)+1)
	copy(peers, peerSet.Peers)
	return NewPeerSet(append(peers, peer))
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// provided address.
func (peerSet *PeerSet) WithRemovedPeer(addr string) *PeerSet {
	_, peers := ExcludePeer(peerSet.Peers, addr)
	return NewPeerSet(peers)
}

/* ToSlice Methods */

// Addrs returns the sorted addresses of the PeerSet.
func (peerSet *PeerSet) Addrs() []string {
	res := make([]string, 0, len(peerSet.Peers))
	for _, peer := range peerSet.Peers {
		res = append(res, peer.NetAddr)
	}
	sort.Strings(res)
	return res
}

/* Utilities */

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByAddr)
}

// Has ...
func (peerSet *PeerSet) Has(addr string) bool {
	_, ok := peerSet.ByAddr[addr]
	return ok
}

// Marshal encodes the list of peers as JSON.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
