package node

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/net"
	"github.com/mosaicnetworks/echo/src/peers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	syncedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_node_synced_messages_total",
		Help: "Feed messages stored from, or sent to, other peers.",
	}, []string{"direction"})

	gossipRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_node_gossip_rounds_total",
		Help: "Pull-push gossip rounds initiated by this node.",
	}, []string{"result"})
)

var errBusy = errors.New("node busy")

// Node replicates the feeds of tracked parties with other nodes.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	adapter *feed.Adapter

	trans net.Transport
	netCh <-chan net.RPC

	peerStore    *peers.JSONPeerSet
	selectorLock sync.Mutex
	peerSelector *RandomPeerSelector

	partiesLock sync.RWMutex
	parties     map[string]bool

	// set when a feed is written, cleared when a gossip round starts
	busy       int32
	wakeCh     chan struct{}
	stopListen func()

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	controlTimer *ControlTimer

	start        time.Time
	syncRequests int64
	syncErrors   int64
}

// NewNode is a factory method that returns a Node instance. peerSet holds the
// peers known at startup, and may be nil. peerStore, if not nil, is updated
// every time a new peer is learned.
func NewNode(conf *Config,
	adapter *feed.Adapter,
	trans net.Transport,
	peerSet *peers.PeerSet,
	peerStore *peers.JSONPeerSet,
) *Node {
	if peerSet == nil {
		peerSet = peers.NewPeerSet(nil)
	}

	node := Node{
		conf:         conf,
		logger:       conf.Logger.WithField("addr", trans.AdvertiseAddr()),
		adapter:      adapter,
		trans:        trans,
		netCh:        trans.Consumer(),
		peerStore:    peerStore,
		peerSelector: NewRandomPeerSelector(peerSet, trans.AdvertiseAddr()),
		parties:      make(map[string]bool),
		wakeCh:       make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
		start:        time.Now(),
	}

	return &node
}

// Init sets the initial state of the node: Joining if it knows other peers,
// Gossiping otherwise.
func (n *Node) Init() error {
	n.stopListen = n.adapter.Listen(n.poke)

	n.selectorLock.Lock()
	known := n.peerSelector.Next() != nil
	n.selectorLock.Unlock()

	if known {
		n.logger.Debug("Node knows peers => Joining")
		n.setState(Joining)
	} else {
		n.logger.Debug("Node knows no peers => Gossiping")
		n.setState(Gossiping)
	}

	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("runasync")

	go n.Run(gossip)
}

// Run invokes the main loop of the node. With gossip false the node serves
// requests from other peers but never initiates a gossip round.
func (n *Node) Run(gossip bool) {
	// The ControlTimer allows the background routines to control the
	// heartbeat timer. It runs fast while feeds are being written to, and
	// slows down when there is nothing new to gossip about.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	// Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Joining:
			n.join()
		case Gossiping:
			n.gossipLoop(gossip)
		case Shutdown:
			return
		}
	}
}

func (n *Node) resetTimer() {
	if !n.controlTimer.isSet() {
		ts := n.conf.HeartbeatTimeout

		// Slow gossip if nothing interesting to say
		if atomic.LoadInt32(&n.busy) == 0 {
			ts = n.conf.SlowHeartbeatTimeout
		}

		n.controlTimer.Reset(ts)
	}
}

// poke is called after every feed write. It switches the timer to the fast
// heartbeat.
func (n *Node) poke() {
	if atomic.CompareAndSwapInt32(&n.busy, 0, 1) {
		select {
		case n.wakeCh <- struct{}{}:
		default:
		}
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			ok := n.goFunc(func() {
				n.processRPC(rpc)
				n.resetTimer()
			})
			if !ok {
				rpc.Respond(nil, errBusy)
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// gossipLoop periodically initiates gossip with a random peer.
func (n *Node) gossipLoop(gossip bool) {
	n.logger.Debug("GOSSIPING")

	for {
		select {
		case <-n.controlTimer.tickCh:
			if gossip {
				atomic.StoreInt32(&n.busy, 0)

				n.selectorLock.Lock()
				peer := n.peerSelector.Next()
				n.selectorLock.Unlock()

				if peer != nil && n.trackedCount() > 0 {
					n.goFunc(func() { n.gossip(peer) })
				}
			}
			n.resetTimer()
		case <-n.wakeCh:
			n.controlTimer.Reset(n.conf.HeartbeatTimeout)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) join() {
	n.logger.Debug("JOINING")

	defer func() {
		if n.getState() == Joining {
			n.setState(Gossiping)
		}
	}()

	n.selectorLock.Lock()
	peer := n.peerSelector.Next()
	n.selectorLock.Unlock()

	if peer == nil {
		return
	}

	start := time.Now()
	resp, err := n.requestJoin(peer.NetAddr)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("requestJoin()")

	if err != nil {
		// Not fatal: gossip keeps trying the known peers.
		n.logger.WithError(err).WithField("peer", peer.NetAddr).Error("Cannot join")
		return
	}

	n.logger.WithFields(logrus.Fields{
		"from":     resp.FromAddr,
		"accepted": resp.Accepted,
		"peers":    len(resp.Peers),
	}).Debug("JoinResponse")

	for _, p := range resp.Peers {
		n.addPeer(p)
	}
}

// gossip performs a pull-push gossip operation with the selected peer.
func (n *Node) gossip(peer *peers.Peer) error {
	// pull
	otherKnown, err := n.pull(peer)
	if err != nil {
		gossipRounds.WithLabelValues("error").Inc()
		n.logger.WithError(err).Error("gossip pull")
		return err
	}

	// push
	err = n.push(peer, otherKnown)
	if err != nil {
		gossipRounds.WithLabelValues("error").Inc()
		n.logger.WithError(err).Error("gossip push")
		return err
	}

	n.selectorLock.Lock()
	n.peerSelector.UpdateLast(peer.NetAddr)
	n.selectorLock.Unlock()

	gossipRounds.WithLabelValues("ok").Inc()

	n.logStats()

	return nil
}

func (n *Node) pull(peer *peers.Peer) (net.Known, error) {
	known, err := n.known(n.trackedParties())
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&n.syncRequests, 1)

	start := time.Now()
	resp, err := n.requestSync(peer.NetAddr, known)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("requestSync()")

	if err != nil {
		atomic.AddInt64(&n.syncErrors, 1)
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"from":     resp.FromAddr,
		"messages": len(resp.Messages),
	}).Debug("SyncResponse")

	if _, err := n.insert(resp.Messages); err != nil {
		return nil, err
	}

	return resp.Known, nil
}

func (n *Node) push(peer *peers.Peer, otherKnown net.Known) error {
	diff, err := n.diff(otherKnown, n.conf.SyncLimit)
	if err != nil {
		return err
	}

	if len(diff) == 0 {
		return nil
	}

	start := time.Now()
	resp, err := n.requestEagerSync(peer.NetAddr, diff)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("requestEagerSync()")
	if err != nil {
		return err
	}

	syncedMessages.WithLabelValues("out").Add(float64(len(diff)))

	n.logger.WithFields(logrus.Fields{
		"from":    resp.FromAddr,
		"success": resp.Success,
	}).Debug("EagerSyncResponse")

	return nil
}

// known returns the Timeframe of every given party held by the adapter.
func (n *Node) known(parties []string) (net.Known, error) {
	res := make(net.Known, len(parties))
	for _, p := range parties {
		tf, err := n.adapter.Known(p)
		if err != nil {
			return nil, err
		}
		res[p] = tf
	}
	return res, nil
}

// diff returns the messages of tracked parties that a peer at otherKnown is
// missing, in feed order. At most limit messages are returned when limit is
// positive; each feed's part of the result is a contiguous run starting right
// after what the peer holds.
func (n *Node) diff(otherKnown net.Known, limit int) ([]*feed.Message, error) {
	parties := make([]string, 0, len(otherKnown))
	for p := range otherKnown {
		if n.IsTracked(p) {
			parties = append(parties, p)
		}
	}
	sort.Strings(parties)

	res := []*feed.Message{}

	for _, p := range parties {
		mine, err := n.adapter.Known(p)
		if err != nil {
			return nil, err
		}

		missing := otherKnown[p].Missing(mine)

		for _, k := range missing.Keys() {
			f, err := n.adapter.OpenFeed(p, k)
			if err != nil {
				return nil, err
			}

			to := f.Length()
			from := missing[k] + 1
			if limit > 0 && to-from > limit-len(res) {
				to = from + limit - len(res)
			}

			msgs, err := f.Range(from, to)
			if err != nil {
				return nil, err
			}
			res = append(res, msgs...)

			if limit > 0 && len(res) >= limit {
				n.logger.WithField("limit", limit).Debug("SyncLimit")
				return res, nil
			}
		}
	}

	return res, nil
}

// insert stores replicated messages of tracked parties. Messages of other
// parties are ignored. It returns the number of new messages and the first
// error encountered; a rejected message does not prevent the others from being
// stored.
func (n *Node) insert(messages []*feed.Message) (int, error) {
	inserted := 0
	var firstErr error

	for _, m := range messages {
		if m == nil || !n.IsTracked(m.Body.PartyKey) {
			continue
		}

		ok, err := n.adapter.Insert(m)
		if err != nil {
			n.logger.WithError(err).WithFields(logrus.Fields{
				"party": cm.ShortKey(m.Body.PartyKey),
				"feed":  cm.ShortKey(m.Body.FeedKey),
				"seq":   m.Body.Seq,
			}).Warn("Rejected feed message")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			inserted++
		}
	}

	syncedMessages.WithLabelValues("in").Add(float64(inserted))

	return inserted, firstErr
}

// Address returns the address other peers reach this node at.
func (n *Node) Address() string {
	return n.trans.AdvertiseAddr()
}

// AddPeer adds a peer to gossip with. Unknown addresses are persisted to the
// peer store.
func (n *Node) AddPeer(address string) {
	n.addPeer(address)
}

func (n *Node) addPeer(address string) bool {
	if address == "" || address == n.Address() {
		return false
	}

	n.selectorLock.Lock()
	added := n.peerSelector.AddPeer(peers.NewPeer(address, ""))
	all := n.peerSelector.Peers().Peers
	n.selectorLock.Unlock()

	if !added {
		return false
	}

	n.logger.WithField("peer", address).Debug("New peer")

	if n.peerStore != nil {
		if err := n.peerStore.Write(all); err != nil {
			n.logger.WithError(err).Error("Writing peers")
		}
	}

	return true
}

// Peers returns the known peers.
func (n *Node) Peers() []*peers.Peer {
	n.selectorLock.Lock()
	defer n.selectorLock.Unlock()
	return n.peerSelector.Peers().Peers
}

// PeerAddrs returns the sorted addresses of the known peers.
func (n *Node) PeerAddrs() []string {
	n.selectorLock.Lock()
	defer n.selectorLock.Unlock()
	return n.peerSelector.Peers().Addrs()
}

// Track starts replicating the feeds of a party.
func (n *Node) Track(partyKey string) {
	n.partiesLock.Lock()
	n.parties[partyKey] = true
	n.partiesLock.Unlock()

	n.logger.WithField("party", cm.ShortKey(partyKey)).Debug("Track")

	n.poke()
}

// Untrack stops replicating the feeds of a party. The feeds already stored are
// kept.
func (n *Node) Untrack(partyKey string) {
	n.partiesLock.Lock()
	delete(n.parties, partyKey)
	n.partiesLock.Unlock()

	n.logger.WithField("party", cm.ShortKey(partyKey)).Debug("Untrack")
}

// IsTracked ...
func (n *Node) IsTracked(partyKey string) bool {
	n.partiesLock.RLock()
	defer n.partiesLock.RUnlock()
	return n.parties[partyKey]
}

func (n *Node) trackedParties() []string {
	n.partiesLock.RLock()
	defer n.partiesLock.RUnlock()

	res := make([]string, 0, len(n.parties))
	for p := range n.parties {
		res = append(res, p)
	}
	sort.Strings(res)
	return res
}

func (n *Node) trackedCount() int {
	n.partiesLock.RLock()
	defer n.partiesLock.RUnlock()
	return len(n.parties)
}

// Shutdown stops the gossip and RPC routines and closes the transport. The
// feed adapter is left open.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		// Exit any non-shutdown state immediately
		n.setState(Shutdown)

		if n.stopListen != nil {
			n.stopListen()
		}

		// Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		// The timer is shut down last because RPC routines may still be
		// resetting it.
		n.controlTimer.Shutdown()

		// transport should only be closed once all concurrent operations are
		// finished
		n.trans.Close()
	})
}

// GetState returns the state of the node.
func (n *Node) GetState() State {
	return n.getState()
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	elapsed := time.Since(n.start)

	s := map[string]string{
		"state":           n.getState().String(),
		"address":         n.Address(),
		"moniker":         n.conf.Moniker,
		"num_peers":       strconv.Itoa(len(n.PeerAddrs())),
		"tracked_parties": strconv.Itoa(n.trackedCount()),
		"sync_requests":   strconv.FormatInt(atomic.LoadInt64(&n.syncRequests), 10),
		"sync_rate":       strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"time_elapsed":    strconv.FormatFloat(elapsed.Seconds(), 'f', 2, 64),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}

	n.logger.WithFields(fields).Debug("Stats")
}

// SyncRate returns the ratio of successful sync requests.
func (n *Node) SyncRate() float64 {
	var syncErrorRate float64

	requests := atomic.LoadInt64(&n.syncRequests)
	if requests != 0 {
		syncErrorRate = float64(atomic.LoadInt64(&n.syncErrors)) / float64(requests)
	}

	return 1 - syncErrorRate
}
