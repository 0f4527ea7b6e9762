package common

import "sync"

// Trigger fans a change signal out to registered listeners. Listeners are
// called synchronously by Fire, outside the Trigger's lock.
type Trigger struct {
	sync.Mutex
	listeners map[int]func()
	next      int
}

// NewTrigger ...
func NewTrigger() *Trigger {
	return &Trigger{
		listeners: make(map[int]func()),
	}
}

// Listen registers fn and returns a function that unregisters it.
func (t *Trigger) Listen(fn func()) func() {
	t.Lock()
	id := t.next
	t.next++
	t.listeners[id] = fn
	t.Unlock()

	return func() {
		t.Lock()
		delete(t.listeners, id)
		t.Unlock()
	}
}

// Fire calls every listener once.
func (t *Trigger) Fire() {
	t.Lock()
	fns := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ResultSet is a live view over a collection. The query is evaluated on
// demand by Value, and again for every subscriber each time the Trigger fires.
type ResultSet[T any] struct {
	trigger *Trigger
	query   func() []T
}

// NewResultSet ...
func NewResultSet[T any](trigger *Trigger, query func() []T) *ResultSet[T] {
	return &ResultSet[T]{
		trigger: trigger,
		query:   query,
	}
}

// Value returns the current content of the set.
func (r *ResultSet[T]) Value() []T {
	return r.query()
}

// Subscribe returns a handle whose channel receives the full content of the
// set after every change. Only the latest value is kept if the subscriber
// falls behind.
func (r *ResultSet[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		ch: make(chan []T, 1),
	}
	sub.stop = r.trigger.Listen(func() {
		sub.push(r.query())
	})
	return sub
}

// Subscription is a cancellable handle on a ResultSet.
type Subscription[T any] struct {
	mu     sync.Mutex
	ch     chan []T
	stop   func()
	closed bool
}

// C returns the channel on which updates are delivered. It is closed by
// Cancel.
func (s *Subscription[T]) C() <-chan []T {
	return s.ch
}

// Cancel stops the delivery of updates. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription[T]) push(v []T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// drop the stale value, if any
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}
