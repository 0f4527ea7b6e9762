package swarm

import (
	"context"
	"sync"
)

// InmemHub connects the InmemNetworks created from it.
type InmemHub struct {
	sync.RWMutex
	topics map[string]Handler
}

// NewInmemHub ...
func NewInmemHub() *InmemHub {
	return &InmemHub{
		topics: make(map[string]Handler),
	}
}

// Network returns a new Network attached to the hub.
func (h *InmemHub) Network() *InmemNetwork {
	return &InmemNetwork{
		hub:    h,
		joined: make(map[string]bool),
	}
}

// InmemNetwork implements Network in memory.
type InmemNetwork struct {
	sync.Mutex
	hub    *InmemHub
	joined map[string]bool
	closed bool
}

// Join implements Network.
func (n *InmemNetwork) Join(topic string, handler Handler) error {
	n.Lock()
	defer n.Unlock()

	if n.closed {
		return ErrClosed
	}

	n.hub.Lock()
	defer n.hub.Unlock()

	if _, ok := n.hub.topics[topic]; ok {
		return ErrTopicTaken
	}
	n.hub.topics[topic] = handler
	n.joined[topic] = true

	return nil
}

// Leave implements Network.
func (n *InmemNetwork) Leave(topic string) error {
	n.Lock()
	defer n.Unlock()
	n.leave(topic)
	return nil
}

func (n *InmemNetwork) leave(topic string) {
	if !n.joined[topic] {
		return
	}
	delete(n.joined, topic)

	n.hub.Lock()
	delete(n.hub.topics, topic)
	n.hub.Unlock()
}

// Call implements Network. The handler runs in the caller's goroutine.
func (n *InmemNetwork) Call(ctx context.Context, topic, method string, payload []byte) ([]byte, error) {
	n.Lock()
	closed := n.closed
	n.Unlock()
	if closed {
		return nil, ErrClosed
	}

	n.hub.RLock()
	handler, ok := n.hub.topics[topic]
	n.hub.RUnlock()

	if !ok {
		return nil, ErrNoListener
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := handler(ctx, method, append([]byte(nil), payload...))
	if err != nil {
		return nil, RemoteError{Message: err.Error()}
	}
	return resp, nil
}

// Close implements Network.
func (n *InmemNetwork) Close() error {
	n.Lock()
	defer n.Unlock()

	for topic := range n.joined {
		n.leave(topic)
	}
	n.closed = true

	return nil
}
