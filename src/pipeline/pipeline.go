package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/credentials"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/snapshot"
	"github.com/mosaicnetworks/echo/src/timeframe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	dispatchedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_pipeline_dispatched_messages_total",
		Help: "Number of messages dispatched by party pipelines",
	}, []string{"payload"})

	rejectedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_pipeline_rejected_messages_total",
		Help: "Number of dispatched messages whose payload was rejected",
	})
)

// ErrStopped is returned by writes and waits on a stopped pipeline.
var ErrStopped = errors.New("pipeline stopped")

// Config ...
type Config struct {
	PartyKey       string
	GenesisFeedKey string

	Adapter  *feed.Adapter
	Registry *model.Registry

	// Snapshots is optional. When set, a snapshot is saved every
	// SnapshotInterval dispatched messages and when the pipeline stops.
	Snapshots        *snapshot.Store
	SnapshotInterval int

	// Snapshot, if set, is the starting point of the pipeline. Only messages
	// beyond its Timeframe are dispatched.
	Snapshot *snapshot.Snapshot

	Logger *logrus.Entry
}

// Pipeline is the inbound merge and outbound writer of one party.
type Pipeline struct {
	partyKey       string
	genesisFeedKey string

	adapter *feed.Adapter
	state   *credentials.PartyState
	items   *model.ItemManager

	snapshots        *snapshot.Store
	snapshotInterval int
	sinceSnapshot    int

	// guards tf, progress, the write feeds and the run state
	mu          sync.Mutex
	tf          timeframe.Timeframe
	progress    chan struct{}
	controlFeed *feed.Feed
	dataFeed    *feed.Feed
	started     bool
	stopped     bool

	// owned by the merge goroutine once started
	pending map[string][]*feed.Message
	reading map[string]bool

	inbound  chan *feed.Message
	outbound chan *writeRequest

	subMu       sync.Mutex
	subscribers map[*Subscription]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Entry
}

// New builds a pipeline. It does not read or write anything until Start.
func New(conf Config) (*Pipeline, error) {
	p := &Pipeline{
		partyKey:         conf.PartyKey,
		genesisFeedKey:   conf.GenesisFeedKey,
		adapter:          conf.Adapter,
		state:            credentials.NewPartyState(conf.PartyKey),
		snapshots:        conf.Snapshots,
		snapshotInterval: conf.SnapshotInterval,
		tf:               timeframe.New(),
		progress:         make(chan struct{}),
		pending:          make(map[string][]*feed.Message),
		reading:          make(map[string]bool),
		inbound:          make(chan *feed.Message),
		outbound:         make(chan *writeRequest),
		subscribers:      make(map[*Subscription]struct{}),
		logger:           conf.Logger,
	}

	p.items = model.NewItemManager(conf.Registry, p, conf.Logger.WithField("component", "items"))

	if snap := conf.Snapshot; snap != nil {
		if snap.PartyKey != conf.PartyKey {
			return nil, cm.NewIntegrityErr("snapshot", "snapshot of another party")
		}
		if err := p.state.Restore(snap.PartyState); err != nil {
			return nil, err
		}
		if err := p.items.Restore(snap.Items); err != nil {
			return nil, err
		}
		p.tf = snap.Timeframe.Copy()

		p.logger.WithField("timeframe", p.tf).Debug("Restored snapshot")
	}

	return p, nil
}

// PartyKey ...
func (p *Pipeline) PartyKey() string {
	return p.partyKey
}

// State returns the party's credential state.
func (p *Pipeline) State() *credentials.PartyState {
	return p.state
}

// Items returns the party's item manager.
func (p *Pipeline) Items() *model.ItemManager {
	return p.items
}

// SetWriteFeeds sets the local feeds that credentials and mutations are
// appended to. Either may be nil for a read-only pipeline.
func (p *Pipeline) SetWriteFeeds(control, data *feed.Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controlFeed = control
	p.dataFeed = data
}

// Start opens readers on the admitted feeds and starts the merge and writer
// goroutines. The pipeline stops when ctx is done or Stop is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return cm.NewPreconditionErr("start", "pipeline already started")
	}
	p.started = true

	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.openReader(p.genesisFeedKey); err != nil {
		return err
	}
	for _, f := range p.state.Feeds() {
		if err := p.openReader(f.FeedKey); err != nil {
			return err
		}
	}

	p.wg.Add(2)
	go p.mergeLoop()
	go p.writeLoop()

	p.logger.WithField("timeframe", p.tf).Debug("Pipeline started")

	return nil
}

// Stop cancels the goroutines, waits for them, and saves a final snapshot if
// messages were dispatched since the last one.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.progress)
	p.progress = make(chan struct{})
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	if p.snapshots != nil && p.sinceSnapshot > 0 {
		p.saveSnapshot()
	}

	p.subMu.Lock()
	subs := make([]*Subscription, 0, len(p.subscribers))
	for s := range p.subscribers {
		subs = append(subs, s)
	}
	p.subMu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}

	p.logger.WithField("timeframe", p.Timeframe()).Debug("Pipeline stopped")
}

// Timeframe returns a copy of the dispatched Timeframe.
func (p *Pipeline) Timeframe() timeframe.Timeframe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tf.Copy()
}

// Subscribe returns a handle on the messages dispatched from now on.
func (p *Pipeline) Subscribe() *Subscription {
	s := newSubscription()
	s.cancel = func() {
		p.subMu.Lock()
		delete(p.subscribers, s)
		p.subMu.Unlock()
	}

	// Stop sets stopped before it collects the subscribers, so checking it
	// under subMu leaves no subscription behind
	p.subMu.Lock()
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if !stopped {
		p.subscribers[s] = struct{}{}
	}
	p.subMu.Unlock()

	if stopped {
		s.Cancel()
	}

	return s
}

// WaitFor blocks until cond returns true, re-evaluating it after every
// dispatched message.
func (p *Pipeline) WaitFor(ctx context.Context, cond func() bool) error {
	for {
		p.mu.Lock()
		stopped := p.stopped
		ch := p.progress
		p.mu.Unlock()

		if cond() {
			return nil
		}
		if stopped {
			return ErrStopped
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForMessage returns once message seq of feedKey has been dispatched.
func (p *Pipeline) WaitForMessage(ctx context.Context, feedKey string, seq int) error {
	return p.WaitFor(ctx, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.tf.Get(feedKey) >= seq
	})
}

// WaitForTimeframe returns once the dispatched Timeframe dominates tf.
func (p *Pipeline) WaitForTimeframe(ctx context.Context, tf timeframe.Timeframe) error {
	return p.WaitFor(ctx, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.tf.Dominates(tf)
	})
}

// openReader must be called with mu held, or from the merge goroutine.
func (p *Pipeline) openReader(feedKey string) error {
	if p.reading[feedKey] {
		return nil
	}

	f, err := p.adapter.OpenFeed(p.partyKey, feedKey)
	if err != nil {
		return err
	}
	p.reading[feedKey] = true

	from := p.tf.Get(feedKey) + 1

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range f.ReadFrom(p.ctx, from) {
			select {
			case p.inbound <- msg:
			case <-p.ctx.Done():
				return
			}
		}
	}()

	p.logger.WithFields(logrus.Fields{
		"feed": cm.ShortKey(feedKey),
		"from": from,
	}).Debug("Reading feed")

	return nil
}

func (p *Pipeline) mergeLoop() {
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.inbound:
			p.enqueue(msg)
			p.drain()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) enqueue(msg *feed.Message) {
	key := msg.Body.FeedKey

	last := p.tf.Get(key)
	if q := p.pending[key]; len(q) > 0 {
		last = q[len(q)-1].Body.Seq
	}

	if msg.Body.Seq <= last {
		return
	}

	p.pending[key] = append(p.pending[key], msg)
}

// drain dispatches ready messages until none is left or the pipeline is
// cancelled.
func (p *Pipeline) drain() {
	for p.ctx.Err() == nil {
		msg := p.next()
		if msg == nil {
			return
		}
		p.dispatch(msg)
	}
}

// next pops the ready message of the feed with the lowest key.
func (p *Pipeline) next() *feed.Message {
	keys := make([]string, 0, len(p.pending))
	for k, q := range p.pending {
		if len(q) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		head := p.pending[k][0]
		if head.Body.Seq != p.tf.Get(k)+1 || !p.tf.Dominates(head.Body.Timeframe) {
			continue
		}

		p.pending[k] = p.pending[k][1:]
		if len(p.pending[k]) == 0 {
			delete(p.pending, k)
		}
		return head
	}

	return nil
}

func (p *Pipeline) dispatch(msg *feed.Message) {
	body := msg.Body
	logger := p.logger.WithFields(logrus.Fields{
		"feed": cm.ShortKey(body.FeedKey),
		"seq":  body.Seq,
	})

	switch {
	case body.Credential != nil:
		dispatchedMessages.WithLabelValues("credential").Inc()

		change, err := p.state.Process(body.Credential, body.FeedKey)
		if err != nil {
			rejectedMessages.Inc()
			logger.WithError(err).Warn("Credential rejected")
			break
		}
		if change.Member != nil {
			logger.WithFields(logrus.Fields{
				"identity": cm.ShortKey(change.Member.IdentityKey),
				"role":     change.Member.Role,
			}).Debug("Member admitted")
		}
		if change.Feed != nil {
			logger.WithFields(logrus.Fields{
				"admitted":    cm.ShortKey(change.Feed.FeedKey),
				"designation": change.Feed.Designation,
			}).Debug("Feed admitted")

			if err := p.openReader(change.Feed.FeedKey); err != nil {
				logger.WithError(err).Error("Opening admitted feed")
			}
		}

	case body.Mutation != nil:
		dispatchedMessages.WithLabelValues("mutation").Inc()

		if !p.state.CanWrite(body.FeedKey) {
			rejectedMessages.Inc()
			logger.Warn("Mutation from a feed without write access")
			break
		}
		p.items.ProcessMutation(body.Mutation, model.Meta{
			FeedKey:   body.FeedKey,
			Seq:       body.Seq,
			Timeframe: body.Timeframe,
		})
	}

	p.mu.Lock()
	p.tf.Set(body.FeedKey, body.Seq)
	close(p.progress)
	p.progress = make(chan struct{})
	p.mu.Unlock()

	p.subMu.Lock()
	for s := range p.subscribers {
		s.push(msg)
	}
	p.subMu.Unlock()

	if p.snapshots != nil && p.snapshotInterval > 0 {
		p.sinceSnapshot++
		if p.sinceSnapshot >= p.snapshotInterval {
			p.saveSnapshot()
		}
	}
}

// takeSnapshot captures the dispatched state. It must not run concurrently
// with the merge goroutine.
func (p *Pipeline) takeSnapshot() (*snapshot.Snapshot, error) {
	items, err := p.items.Snapshot()
	if err != nil {
		return nil, err
	}
	return &snapshot.Snapshot{
		PartyKey:   p.partyKey,
		Timeframe:  p.Timeframe(),
		PartyState: p.state.Snapshot(),
		Items:      items,
	}, nil
}

func (p *Pipeline) saveSnapshot() {
	snap, err := p.takeSnapshot()
	if err != nil {
		p.logger.WithError(err).Error("Taking snapshot")
		return
	}
	p.snapshots.Save(snap)
	p.sinceSnapshot = 0
}
