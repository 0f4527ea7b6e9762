package node

import (
	"math/rand"
	"sync/atomic"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer drives the gossip loop. It sends a tick on tickCh when its timer
// expires, and waits for a reset before arming again.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      // sends a signal to listening process
	resetCh      chan time.Duration // receives instruction to reset the heartbeatTimer
	stopCh       chan struct{}      // receives instruction to stop the heartbeatTimer
	shutdownCh   chan struct{}      // receives instruction to exit Run loop
	set          int32
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}, 1),
		resetCh:      make(chan time.Duration),
		stopCh:       make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer returns a ControlTimer that waits between min and
// 2*min, so that peers started together do not gossip in lockstep.
func NewRandomControlTimer() *ControlTimer {
	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := (time.Duration(rand.Int63()) % min)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run arms the timer with init and serves ticks and resets until Shutdown.
func (c *ControlTimer) Run(init time.Duration) {
	setTimer := func(t time.Duration) <-chan time.Time {
		c.setSet(true)
		return c.timerFactory(t)
	}

	timer := setTimer(init)
	for {
		select {
		case <-timer:
			timer = nil
			c.setSet(false)
			// a tick that is still pending covers this one
			select {
			case c.tickCh <- struct{}{}:
			default:
			}
		case t := <-c.resetCh:
			timer = setTimer(t)
		case <-c.stopCh:
			timer = nil
			c.setSet(false)
		case <-c.shutdownCh:
			c.setSet(false)
			return
		}
	}
}

// Reset arms the timer with t, unless the loop has exited.
func (c *ControlTimer) Reset(t time.Duration) {
	select {
	case c.resetCh <- t:
	case <-c.shutdownCh:
	}
}

// Stop disarms the timer until the next Reset.
func (c *ControlTimer) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	case <-c.shutdownCh:
	}
}

// Shutdown exits the Run loop.
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}

func (c *ControlTimer) isSet() bool {
	return atomic.LoadInt32(&c.set) == 1
}

func (c *ControlTimer) setSet(v bool) {
	if v {
		atomic.StoreInt32(&c.set, 1)
	} else {
		atomic.StoreInt32(&c.set, 0)
	}
}
