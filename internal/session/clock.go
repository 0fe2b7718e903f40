package session

import (
	"sync"
	"time"
)

// Clock drives Machine.Tick from a ticker goroutine. At most one goroutine
// runs at a time; Stop then Start replaces it without overlap.
type Clock struct {
	machine  *Machine
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	// OnTick, when set, receives every snapshot the clock produced.
	OnTick func(Snapshot)
}

// NewClock ticks m once per interval. A zero interval means one second.
func NewClock(m *Machine, interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{machine: m, interval: interval}
}

// Start launches the ticker if it is not already running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.done:
			// previous run exited by itself
		default:
			return
		}
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

// Stop halts the ticker and waits for the goroutine to exit.
func (c *Clock) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether a ticker goroutine is live.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			snap, err := c.machine.Tick()
			if err == nil && c.OnTick != nil {
				c.OnTick(snap)
			}
			// nothing left to drive once the session is no longer Locked
			if snap.State != StateLocked {
				return
			}
		}
	}
}
