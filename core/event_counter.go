package core

import (
	"math"
	"sync"
	"time"

	"github.com/worktrack/agent/internal/logging"
)

// IdleProber reads how long the user has been idle according to the OS.
type IdleProber interface {
	IdleTime() (time.Duration, error)
}

// EventCounter samples keyboard/mouse/system activity at 1 Hz and computes
// rolling activity percentages for the current interval.
//
// Two tickers run in parallel: the accumulation ticker folds the per-second
// flags into second counters and clears them, and the idle ticker marks the
// system active whenever the OS idle time reads zero. Producers (the input
// monitor) only set flags; they never touch the counters directly.
type EventCounter struct {
	idle IdleProber

	mu              sync.Mutex
	keyboardSeconds int
	mouseSeconds    int
	systemSeconds   int
	intervalSeconds int

	keyboardThisSecond bool
	mouseThisSecond    bool
	systemThisSecond   bool

	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewEventCounter(idle IdleProber) *EventCounter {
	c := &EventCounter{idle: idle}
	c.resetLocked()
	return c
}

// MarkKeyboard flags keyboard activity for the current second.
func (c *EventCounter) MarkKeyboard() {
	c.mu.Lock()
	c.keyboardThisSecond = true
	c.mu.Unlock()
}

// MarkMouse flags mouse activity for the current second.
func (c *EventCounter) MarkMouse() {
	c.mu.Lock()
	c.mouseThisSecond = true
	c.mu.Unlock()
}

// Start launches both tickers. A second call while running is a no-op.
func (c *EventCounter) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
}

// Stop halts both tickers. Counters keep their values until Reset.
func (c *EventCounter) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *EventCounter) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	accumulate := time.NewTicker(time.Second)
	defer accumulate.Stop()
	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-stop:
			return
		case <-accumulate.C:
			c.tick()
		case <-idle.C:
			c.sampleIdle()
		}
	}
}

// tick folds the per-second flags into the counters and clears them.
func (c *EventCounter) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keyboardThisSecond {
		c.keyboardSeconds++
	}
	if c.mouseThisSecond {
		c.mouseSeconds++
	}
	if c.systemThisSecond {
		c.systemSeconds++
	}
	c.intervalSeconds++

	c.keyboardThisSecond = false
	c.mouseThisSecond = false
	c.systemThisSecond = false
}

func (c *EventCounter) sampleIdle() {
	if c.idle == nil {
		return
	}
	idleFor, err := c.idle.IdleTime()
	if err != nil {
		// Idle API unavailable: degrade, do not crash the ticker.
		logging.Debugf("idle probe failed: %v", err)
		return
	}
	if idleFor == 0 {
		c.mu.Lock()
		c.systemThisSecond = true
		c.mu.Unlock()
	}
}

// Reset zeroes all counters. A fresh interval starts with the system flag
// set: the system counts as active until proven otherwise.
func (c *EventCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *EventCounter) resetLocked() {
	c.keyboardSeconds = 0
	c.mouseSeconds = 0
	c.systemSeconds = 0
	c.intervalSeconds = 0
	c.keyboardThisSecond = false
	c.mouseThisSecond = false
	c.systemThisSecond = true
}

// IntervalSeconds returns how many seconds the current interval has covered.
func (c *EventCounter) IntervalSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervalSeconds
}

// KeyboardPercentage returns the keyboard activity percentage for the
// current interval. The raw ceil-based ratio is preserved, so values above
// 100 are possible when sampling windows drift; callers that need a bound
// must clamp themselves.
func (c *EventCounter) KeyboardPercentage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return percentage(c.keyboardSeconds, c.intervalSeconds)
}

// MousePercentage returns the mouse activity percentage for the interval.
func (c *EventCounter) MousePercentage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return percentage(c.mouseSeconds, c.intervalSeconds)
}

// SystemPercentage returns the system activity percentage for the interval.
func (c *EventCounter) SystemPercentage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return percentage(c.systemSeconds, c.intervalSeconds)
}

// percentage is ceil(active / (interval/100)), guarded to 0 for an empty
// interval so it can never yield NaN or Inf.
func percentage(activeSeconds, intervalSeconds int) int {
	if intervalSeconds == 0 {
		return 0
	}
	return int(math.Ceil(float64(activeSeconds) / (float64(intervalSeconds) / 100)))
}
