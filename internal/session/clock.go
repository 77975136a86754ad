package session

import (
	"sync"
	"time"
)

// Clock is a per-session countdown. It emits one tick per interval carrying
// the remaining seconds and a single expiry callback when the countdown hits
// zero. Pausing freezes the remaining value without emitting ticks.
//
// Each session owns its own Clock instance; there is no shared timer state.
// Callbacks fire on the clock's goroutine — callers are expected to route
// them into their own event stream.
type Clock struct {
	mu        sync.Mutex
	interval  time.Duration
	remaining int
	running   bool
	paused    bool
	stopCh    chan struct{}
	onTick    func(remaining int)
	onExpire  func()
}

// NewClock creates a countdown that ticks at the given interval (one logical
// second per tick). A non-positive interval defaults to one real second;
// tests shrink it.
func NewClock(interval time.Duration, onTick func(int), onExpire func()) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{
		interval: interval,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start begins the countdown from durationSeconds. Overlapping countdowns on
// the same clock are forbidden; starting a running clock is an error.
func (c *Clock) Start(durationSeconds int) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrClockRunning
	}
	c.running = true
	c.paused = false
	c.remaining = durationSeconds
	stop := make(chan struct{})
	c.stopCh = stop
	c.mu.Unlock()

	go c.run(stop)
	return nil
}

func (c *Clock) run(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.running {
				c.mu.Unlock()
				return
			}
			if c.paused {
				c.mu.Unlock()
				continue
			}
			c.remaining--
			remaining := c.remaining
			expired := remaining <= 0
			if expired {
				c.running = false
			}
			c.mu.Unlock()

			if c.onTick != nil {
				c.onTick(remaining)
			}
			if expired {
				// Emitted exactly once: running is already false, so a
				// concurrent Stop cannot race a second expiry.
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}

// Pause freezes the countdown. Ticks stop and the remaining value holds.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.paused = true
	}
}

// Resume continues a paused countdown from the frozen remaining value.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.paused = false
	}
}

// Stop halts the countdown without emitting expiry. Idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// Remaining returns the current frozen or counting remaining seconds.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the countdown is active (possibly paused).
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Paused reports whether the countdown is frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.paused
}
