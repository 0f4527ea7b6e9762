package node

import (
	"fmt"

	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/net"
	"github.com/sirupsen/logrus"
)

func (n *Node) requestSync(target string, known net.Known) (net.SyncResponse, error) {
	args := net.SyncRequest{
		FromAddr:  n.Address(),
		Known:     known,
		SyncLimit: n.conf.SyncLimit,
	}

	var out net.SyncResponse

	err := n.trans.Sync(target, &args, &out)

	return out, err
}

func (n *Node) requestEagerSync(target string, messages []*feed.Message) (net.EagerSyncResponse, error) {
	args := net.EagerSyncRequest{
		FromAddr: n.Address(),
		Messages: messages,
	}

	var out net.EagerSyncResponse

	err := n.trans.EagerSync(target, &args, &out)

	return out, err
}

func (n *Node) requestJoin(target string) (net.JoinResponse, error) {
	args := net.JoinRequest{
		FromAddr: n.Address(),
		Peers:    n.PeerAddrs(),
	}

	var out net.JoinResponse

	err := n.trans.Join(target, &args, &out)

	return out, err
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.SyncRequest:
		n.processSyncRequest(rpc, cmd)
	case *net.EagerSyncRequest:
		n.processEagerSyncRequest(rpc, cmd)
	case *net.JoinRequest:
		n.processJoinRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processSyncRequest(rpc net.RPC, cmd *net.SyncRequest) {
	n.logger.WithFields(logrus.Fields{
		"from":    cmd.FromAddr,
		"parties": len(cmd.Known),
	}).Debug("process SyncRequest")

	n.addPeer(cmd.FromAddr)

	resp := &net.SyncResponse{
		FromAddr: n.Address(),
	}

	limit := n.conf.SyncLimit
	if cmd.SyncLimit > 0 && (limit <= 0 || cmd.SyncLimit < limit) {
		limit = cmd.SyncLimit
	}

	// Only parties replicated by both sides are exchanged.
	shared := []string{}
	for p := range cmd.Known {
		if n.IsTracked(p) {
			shared = append(shared, p)
		}
	}

	var respErr error

	messages, err := n.diff(cmd.Known, limit)
	if err != nil {
		n.logger.WithError(err).Error("Calculating Diff")
		respErr = err
	} else {
		resp.Messages = messages
	}

	known, err := n.known(shared)
	if err != nil {
		n.logger.WithError(err).Error("Computing Known")
		respErr = err
	} else {
		resp.Known = known
	}

	if respErr == nil {
		syncedMessages.WithLabelValues("out").Add(float64(len(resp.Messages)))
	}

	n.logger.WithFields(logrus.Fields{
		"messages": len(resp.Messages),
		"parties":  len(resp.Known),
		"rpc_err":  respErr,
	}).Debug("Responding to SyncRequest")

	rpc.Respond(resp, respErr)
}

func (n *Node) processEagerSyncRequest(rpc net.RPC, cmd *net.EagerSyncRequest) {
	n.logger.WithFields(logrus.Fields{
		"from":     cmd.FromAddr,
		"messages": len(cmd.Messages),
	}).Debug("EagerSyncRequest")

	n.addPeer(cmd.FromAddr)

	success := true

	_, err := n.insert(cmd.Messages)
	if err != nil {
		n.logger.WithError(err).Error("insert()")
		success = false
	}

	resp := &net.EagerSyncResponse{
		FromAddr: n.Address(),
		Success:  success,
	}

	rpc.Respond(resp, err)
}

func (n *Node) processJoinRequest(rpc net.RPC, cmd *net.JoinRequest) {
	n.logger.WithFields(logrus.Fields{
		"from":  cmd.FromAddr,
		"peers": len(cmd.Peers),
	}).Debug("process JoinRequest")

	// Respond with the peers known before the request
	known := n.PeerAddrs()

	n.addPeer(cmd.FromAddr)
	for _, p := range cmd.Peers {
		n.addPeer(p)
	}

	resp := &net.JoinResponse{
		FromAddr: n.Address(),
		Accepted: true,
		Peers:    known,
	}

	rpc.Respond(resp, nil)
}
