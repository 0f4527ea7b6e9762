package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a replication node: Joining, Gossiping, or
// Shutdown.
type State uint32

const (
	// Joining is the initial state of a node that knows peers. It introduces
	// itself to one of them before gossiping.
	Joining State = iota
	// Gossiping exchanges feed messages with random peers.
	Gossiping
	// Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Gossiping:
		return "Gossiping"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (s *state) getState() State {
	stateAddr := (*uint32)(&s.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(st State) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(st))
}

// goFunc starts f in a goroutine tracked by the waitgroup. It drops f, and
// returns false, when WGLIMIT goroutines are already running.
func (s *state) goFunc(f func()) bool {
	if atomic.AddInt32(&s.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&s.wgCount, -1)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.wgCount, -1)
		f()
	}()
	return true
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
