package net

import (
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/timeframe"
)

// Known maps party keys to the feed lengths a peer holds, expressed as the
// Timeframe of the highest stored sequence number of each feed.
type Known map[string]timeframe.Timeframe

// SyncRequest corresponds to the pull part of the pull-push gossip protocol.
// It is used to retrieve unknown feed messages from another peer. Known
// represents how much of each replicated party the requester holds. SyncLimit
// caps the number of messages in the response.
type SyncRequest struct {
	FromAddr  string
	Known     Known
	SyncLimit int
}

// SyncResponse returns the messages requested by a SyncRequest, for the
// parties replicated by both peers. Known indicates how much the responder
// holds, so that the requester can push what the responder is missing.
type SyncResponse struct {
	FromAddr string
	Messages []*feed.Message
	Known    Known
}

// EagerSyncRequest corresponds to the push part of the pull-push gossip
// protocol. It is used to actively push messages to a peer without it being
// requested.
type EagerSyncRequest struct {
	FromAddr string
	Messages []*feed.Message
}

// EagerSyncResponse indicates the success or failure of an EagerSyncRequest.
type EagerSyncResponse struct {
	FromAddr string
	Success  bool
}

// JoinRequest introduces a peer, and the peers it knows, to another peer.
type JoinRequest struct {
	FromAddr string
	Peers    []string
}

// JoinResponse returns the peers known by the responder.
type JoinResponse struct {
	FromAddr string
	Accepted bool
	Peers    []string
}
