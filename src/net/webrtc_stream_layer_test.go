package net

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/net/signal/wamp"
)

func TestWebRTCTransportWithWampSignal(t *testing.T) {
	if testing.Short() {
		t.Skip("WebRTC negotiation is slow")
	}

	server, err := wamp.NewServer("127.0.0.1:0", "office", "", "", common.NewTestEntry(t, "wamp"))
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	go server.Run()
	defer server.Shutdown()

	conf := wamp.ConnectConfig{
		URL:             server.URL(),
		Realm:           server.Realm(),
		ResponseTimeout: 5 * time.Second,
	}

	newTransport := func(id string) *NetworkTransport {
		signal, err := wamp.NewClient(conf, id, common.NewTestEntry(t, id))
		if err != nil {
			t.Fatal(err)
		}
		trans, err := NewWebRTCTransport(signal, nil, 1, 5*time.Second, 5*time.Second, common.NewTestEntry(t, id))
		if err != nil {
			t.Fatal(err)
		}
		go trans.Listen()
		return trans
	}

	alice := newTransport("alice")
	defer alice.Close()
	bob := newTransport("bob")
	defer bob.Close()

	if alice.AdvertiseAddr() != "alice" {
		t.Fatalf("advertise address: %s", alice.AdvertiseAddr())
	}

	args := JoinRequest{FromAddr: "bob"}
	resp := JoinResponse{FromAddr: "alice", Accepted: true, Peers: []string{"carol"}}

	serve(t, alice, &args, &resp)

	var out JoinResponse
	if err := bob.Join("alice", &args, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Accepted || out.FromAddr != "alice" {
		t.Fatalf("bad response: %#v", out)
	}
}
