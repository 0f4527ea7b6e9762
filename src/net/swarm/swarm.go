// Package swarm provides the ephemeral rendezvous used by invitations.
//
// A topic is a meeting point named by a random key. The peer that owns a topic
// Joins it with a Handler; other peers Call methods on it. Payloads are opaque
// bytes. Two implementations are provided: Inmem, for tests and single-process
// setups, and Wamp, which relays calls through a WAMP router.
package swarm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoListener is returned by Call when nobody has joined the topic.
	ErrNoListener = errors.New("no listener on topic")

	// ErrTopicTaken is returned by Join when the topic already has a handler.
	ErrTopicTaken = errors.New("topic already joined")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("swarm network closed")
)

// Handler serves the calls made on a joined topic.
type Handler func(ctx context.Context, method string, payload []byte) ([]byte, error)

// Network is a rendezvous network.
type Network interface {
	// Join starts serving topic with handler.
	Join(topic string, handler Handler) error

	// Leave stops serving topic.
	Leave(topic string) error

	// Call invokes method on the peer serving topic, and returns its response.
	Call(ctx context.Context, topic, method string, payload []byte) ([]byte, error)

	// Close leaves every topic and releases the network.
	Close() error
}

// RemoteError is the error returned by the remote handler, as seen by the
// caller.
type RemoteError struct {
	Message string
}

// Error ...
func (e RemoteError) Error() string {
	return fmt.Sprintf("remote: %s", e.Message)
}
