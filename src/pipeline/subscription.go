package pipeline

import (
	"sync"

	"github.com/mosaicnetworks/echo/src/feed"
)

// Subscription delivers dispatched messages, in dispatch order, until it is
// cancelled. Messages are queued when the receiver is slow; the merge loop
// never waits for a subscriber.
type Subscription struct {
	mu     sync.Mutex
	queue  []*feed.Message
	wake   chan struct{}
	done   chan struct{}
	ch     chan *feed.Message
	cancel func()
	once   sync.Once
}

func newSubscription() *Subscription {
	s := &Subscription{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		ch:   make(chan *feed.Message),
	}
	go s.pump()
	return s
}

// C returns the channel of dispatched messages. It is closed by Cancel.
func (s *Subscription) C() <-chan *feed.Message {
	return s.ch
}

// Cancel stops the subscription.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}

func (s *Subscription) push(msg *feed.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.ch)

	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, msg := range batch {
			select {
			case s.ch <- msg:
			case <-s.done:
				return
			}
		}
	}
}
