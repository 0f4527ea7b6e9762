package swarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/echo/src/common"
	ewamp "github.com/mosaicnetworks/echo/src/net/signal/wamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if method == "fail" {
		return nil, errors.New("handler failed")
	}
	return append([]byte(method+":"), payload...), nil
}

func testNetworks(t *testing.T, host, guest Network) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := guest.Call(ctx, "room", "hello", nil)
	assert.ErrorIs(t, err, ErrNoListener)

	require.NoError(t, host.Join("room", echoHandler))
	assert.ErrorIs(t, host.Join("room", echoHandler), ErrTopicTaken)

	resp, err := guest.Call(ctx, "room", "hello", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `hello:{"a":1}`, string(resp))

	_, err = guest.Call(ctx, "room", "fail", nil)
	var remote RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "handler failed", remote.Message)

	require.NoError(t, host.Leave("room"))
	_, err = guest.Call(ctx, "room", "hello", nil)
	assert.ErrorIs(t, err, ErrNoListener)

	// the topic can be joined again after leaving
	require.NoError(t, guest.Join("room", echoHandler))
	_, err = host.Call(ctx, "room", "hello", nil)
	require.NoError(t, err)
}

func TestInmemNetwork(t *testing.T) {
	hub := NewInmemHub()
	host, guest := hub.Network(), hub.Network()
	defer guest.Close()

	testNetworks(t, host, guest)

	require.NoError(t, host.Close())
	assert.ErrorIs(t, host.Join("other", echoHandler), ErrClosed)
}

func TestWampNetwork(t *testing.T) {
	logger := common.NewTestEntry(t, "swarm")

	server, err := ewamp.NewServer("127.0.0.1:0", "echo", "", "", logger)
	require.NoError(t, err)
	require.NoError(t, server.Listen())
	go server.Run()
	defer server.Shutdown()

	host, err := NewLocalWampNetwork(server, logger)
	require.NoError(t, err)
	defer host.Close()

	guest, err := NewWampNetwork(context.Background(), ewamp.ConnectConfig{
		URL:             server.URL(),
		Realm:           server.Realm(),
		ResponseTimeout: 5 * time.Second,
	}, logger)
	require.NoError(t, err)
	defer guest.Close()

	testNetworks(t, host, guest)
}
