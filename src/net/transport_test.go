package net

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/feed"
	"github.com/mosaicnetworks/echo/src/model"
	"github.com/mosaicnetworks/echo/src/timeframe"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, addr string, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport(addr)
		return it
	case TCP:
		tt, err := NewTCPTransport(addr, "", 2, time.Second, 2*time.Second, common.NewTestEntry(t, "net"))
		if err != nil {
			t.Fatal(err)
		}
		go tt.Listen()
		return tt
	default:
		panic("Unknown transport type")
	}
}

// connect routes in-memory transports to each other. Network transports do
// not need it.
func connect(ttype int, trans1, trans2 Transport) {
	if ttype != INMEM {
		return
	}
	itrans1 := trans1.(*InmemTransport)
	itrans2 := trans2.(*InmemTransport)
	itrans1.Connect(trans2.LocalAddr(), trans2)
	itrans2.Connect(trans1.LocalAddr(), trans1)
}

func testMessages() []*feed.Message {
	return []*feed.Message{
		{
			Body: feed.Body{
				PartyKey:  "0XPARTY",
				FeedKey:   "0XFEED",
				Seq:       3,
				Timeframe: timeframe.Timeframe{"0XFEED": 2, "0XOTHER": 7},
				Mutation: &model.Mutation{
					ItemID:    "01H0000000000000000000000",
					ModelKind: model.ObjectKind,
					Payload:   []byte(`{"set":{"title":"hello"}}`),
				},
			},
			Signature: "1|2",
		},
	}
}

// serve answers the first RPC received by trans with resp, after checking
// that its command equals want.
func serve(t *testing.T, trans Transport, want interface{}, resp interface{}) {
	go func() {
		select {
		case rpc := <-trans.Consumer():
			if !reflect.DeepEqual(rpc.Command, want) {
				t.Errorf("command mismatch: %#v %#v", rpc.Command, want)
			}
			rpc.Respond(resp, nil)
		case <-time.After(10 * time.Second):
			t.Errorf("timeout")
		}
	}()
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_Sync(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		args := SyncRequest{
			FromAddr:  trans2.LocalAddr(),
			SyncLimit: 20,
			Known: Known{
				"0XPARTY": timeframe.Timeframe{"0XFEED": 2},
			},
		}
		resp := SyncResponse{
			FromAddr: trans1.LocalAddr(),
			Messages: testMessages(),
			Known: Known{
				"0XPARTY": timeframe.Timeframe{"0XFEED": 3, "0XOTHER": 7},
			},
		}

		serve(t, trans1, &args, &resp)

		var out SyncResponse
		if err := trans2.Sync(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}
	}
}

func TestTransport_EagerSync(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		args := EagerSyncRequest{
			FromAddr: trans2.LocalAddr(),
			Messages: testMessages(),
		}
		resp := EagerSyncResponse{
			FromAddr: trans1.LocalAddr(),
			Success:  true,
		}

		serve(t, trans1, &args, &resp)

		var out EagerSyncResponse
		if err := trans2.EagerSync(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}
	}
}

func TestTransport_Join(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		args := JoinRequest{
			FromAddr: trans2.LocalAddr(),
			Peers:    []string{"10.0.0.3:1337"},
		}
		resp := JoinResponse{
			FromAddr: trans1.LocalAddr(),
			Accepted: true,
			Peers:    []string{"10.0.0.4:1337", "10.0.0.5:1337"},
		}

		serve(t, trans1, &args, &resp)

		var out JoinResponse
		if err := trans2.Join(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}
	}
}

func TestTransport_Error(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()
		connect(ttype, trans1, trans2)

		go func() {
			rpc := <-trans1.Consumer()
			rpc.Respond(&EagerSyncResponse{}, errTestRejected)
		}()

		var out EagerSyncResponse
		err := trans2.EagerSync(trans1.LocalAddr(), &EagerSyncRequest{}, &out)
		if err == nil || err.Error() != errTestRejected.Error() {
			t.Fatalf("expected %v, got %v", errTestRejected, err)
		}
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestRejected = testError("rejected")

func TestNetworkTransport_PooledConn(t *testing.T) {
	// Transport 1 is consumer
	trans1, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, time.Second, common.NewTestEntry(t, "net"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans1.Close()
	go trans1.Listen()

	args := SyncRequest{
		FromAddr: "peer",
		Known: Known{
			"0XPARTY": timeframe.Timeframe{"0XFEED": 1},
		},
	}
	resp := SyncResponse{
		FromAddr: trans1.LocalAddr(),
		Messages: testMessages(),
	}

	go func() {
		for {
			select {
			case rpc := <-trans1.Consumer():
				rpc.Respond(&resp, nil)
			case <-time.After(time.Second):
				return
			}
		}
	}()

	// Transport 2 makes outbound request, 3 conn pool
	trans2, err := NewTCPTransport("127.0.0.1:0", "", 3, time.Second, time.Second, common.NewTestEntry(t, "net"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans2.Close()

	wg := &sync.WaitGroup{}
	wg.Add(5)

	syncFunc := func() {
		defer wg.Done()
		var out SyncResponse
		if err := trans2.Sync(trans1.LocalAddr(), &args, &out); err != nil {
			t.Errorf("err: %v", err)
			return
		}
		if !reflect.DeepEqual(resp, out) {
			t.Errorf("response mismatch: %#v %#v", resp, out)
		}
	}

	// parallel syncs stress the conn pool
	for i := 0; i < 5; i++ {
		go syncFunc()
	}

	wg.Wait()

	addr := trans1.LocalAddr()
	trans2.connPoolLock.Lock()
	pooled := len(trans2.connPool[addr])
	trans2.connPoolLock.Unlock()
	if pooled == 0 || pooled > 3 {
		t.Fatalf("Expected between 1 and 3 pooled conns, got %d", pooled)
	}
}
