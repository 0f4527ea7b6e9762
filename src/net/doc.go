// Package net implements the transports over which ECHO nodes replicate
// party feeds.
//
// This package contains various implementations of the Transport interface,
// which is used by nodes to send and receive RPC requests (SyncRequest,
// EagerSyncRequest, JoinRequest). There are three implementations:
//
// - Inmem: in-memory transport used for testing
//
// - TCP: communicating over plain TCP
//
// - WebRTC: using WebRTC data channels
//
// Requests carry signed feed messages. Transports do not interpret them; the
// receiving node verifies and stores them through its feed adapter.
//
// TCP
//
// The TCP transport is suitable when peers are in the same local network, or
// when users are able to configure their connections appropriately to avoid
// NAT issues. It is configured with:
//
// - Listen: the IP:PORT of the TCP socket that the node binds to.
//
// - Advertise: (optional) The address that is advertised to other peers. If
// the listen address is not reachable by other peers, set Advertise to the
// reachable public address.
//
// WebRTC
//
// The WebRTC transport addresses the NAT traversal issue, but it requires a
// signaling server for peers to exchange connection information, and
// STUN/TURN services. It is configured with:
//
// - WebRTC: use a WebRTC transport
//
// - SignalAddr: address of the WAMP signaling server (cf. signal/wamp)
//
// - SignalRealm: routing domain within the signaling server
//
// - ICEAddress, ICEUsername, ICEPassword: the STUN/TURN server
//
// The signaling server is only used to exchange SDP offers and answers; the
// feeds themselves travel over direct peer-to-peer data channels. The
// advertised address of a WebRTC transport is its identifier on the
// signaling server.
package net
