package swarm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	ewamp "github.com/mosaicnetworks/echo/src/net/signal/wamp"
	"github.com/sirupsen/logrus"
)

const (
	procedurePrefix = "echo.swarm"

	// errMalformedCall is the WAMP error URI of a call without method and
	// payload.
	errMalformedCall = "io.echo.swarm.malformed_call"
)

// WampNetwork implements Network over a WAMP router. Each topic is a single
// registered procedure; the method is the first call argument. Results carry
// the response payload and the handler's error message, if any.
type WampNetwork struct {
	sync.Mutex
	client *client.Client
	joined map[string]bool
	logger *logrus.Entry
}

// NewWampNetwork connects to a WAMP router over the network.
func NewWampNetwork(ctx context.Context, conf ewamp.ConnectConfig, logger *logrus.Entry) (*WampNetwork, error) {
	cli, err := ewamp.Connect(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	return newWampNetwork(cli, logger), nil
}

// NewLocalWampNetwork connects to the router of a server running in the same
// process.
func NewLocalWampNetwork(server *ewamp.Server, logger *logrus.Entry) (*WampNetwork, error) {
	cli, err := client.ConnectLocal(server.Router(), client.Config{
		Realm:  server.Realm(),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return newWampNetwork(cli, logger), nil
}

func newWampNetwork(cli *client.Client, logger *logrus.Entry) *WampNetwork {
	return &WampNetwork{
		client: cli,
		joined: make(map[string]bool),
		logger: logger,
	}
}

func procedure(topic string) string {
	return ewamp.Procedure(procedurePrefix, topic, "rpc")
}

// Join implements Network.
func (n *WampNetwork) Join(topic string, handler Handler) error {
	n.Lock()
	defer n.Unlock()

	if n.joined[topic] {
		return ErrTopicTaken
	}

	invoke := func(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
		if len(inv.Arguments) != 2 {
			return client.InvokeResult{Err: errMalformedCall}
		}
		method, _ := wamp.AsString(inv.Arguments[0])
		payload, _ := wamp.AsString(inv.Arguments[1])

		resp, err := handler(ctx, method, []byte(payload))
		if err != nil {
			return client.InvokeResult{Args: wamp.List{"", err.Error()}}
		}
		return client.InvokeResult{Args: wamp.List{string(resp), ""}}
	}

	if err := n.client.Register(procedure(topic), invoke, nil); err != nil {
		if strings.Contains(err.Error(), string(wamp.ErrProcedureAlreadyExists)) {
			return ErrTopicTaken
		}
		return err
	}
	n.joined[topic] = true

	n.logger.WithField("topic", topic).Debug("Joined swarm")

	return nil
}

// Leave implements Network.
func (n *WampNetwork) Leave(topic string) error {
	n.Lock()
	defer n.Unlock()

	if !n.joined[topic] {
		return nil
	}
	delete(n.joined, topic)

	return n.client.Unregister(procedure(topic))
}

// Call implements Network.
func (n *WampNetwork) Call(ctx context.Context, topic, method string, payload []byte) ([]byte, error) {
	args := wamp.List{method, string(payload)}

	result, err := n.client.Call(ctx, procedure(topic), nil, args, nil, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.Contains(err.Error(), string(wamp.ErrNoSuchProcedure)) {
			return nil, ErrNoListener
		}
		return nil, err
	}

	if len(result.Arguments) != 2 {
		return nil, errors.New("malformed swarm response")
	}
	resp, _ := wamp.AsString(result.Arguments[0])
	if msg, _ := wamp.AsString(result.Arguments[1]); msg != "" {
		return nil, RemoteError{Message: msg}
	}
	return []byte(resp), nil
}

// Close implements Network.
func (n *WampNetwork) Close() error {
	n.Lock()
	for topic := range n.joined {
		n.client.Unregister(procedure(topic))
	}
	n.joined = make(map[string]bool)
	n.Unlock()

	return n.client.Close()
}
