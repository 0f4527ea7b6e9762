// Package peers defines the concept of an ECHO peer and implements functions
// to manage collections of peers.
//
// An ECHO peer is an entity that operates a replication node. Peers are
// identified by the address where their node can be reached, and optionaly a
// moniker which is a non-unique user-friendly name. With TCP the address is an
// IP address and port. With WebRTC it is the public key under which the node
// is registered with the signaling server.
//
// Peers are not configured up front. They are learned while parties are
// created and joined: the invitation handshake exchanges the addresses of the
// inviter and the invitee, and replication nodes introduce their known peers to
// each other. A node persists the peers it has learned in a peers.json file in
// its data directory, so that it can resume replication after a restart.
package peers
