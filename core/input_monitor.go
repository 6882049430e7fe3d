package core

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// InputMonitor captures global keyboard and mouse events and feeds them into
// the EventCounter as per-second activity flags. It keeps no event history:
// only "was there input this second" matters to the tracker.
//
// The gohook state is process-global, so at most one hook session may run at
// a time; StopMonitoring waits for the session goroutine to tear down before
// returning.
type InputMonitor struct {
	counter *EventCounter

	// start and end wrap the gohook entry points so tests can run without a
	// real hook.
	start func() chan hook.Event
	end   func()

	mu           sync.Mutex
	isMonitoring bool
	done         chan struct{}
}

func NewInputMonitor(counter *EventCounter) *InputMonitor {
	return &InputMonitor{counter: counter, start: hook.Start, end: hook.End}
}

// StartMonitoring begins the global hook. A second call while already
// monitoring is a no-op.
func (im *InputMonitor) StartMonitoring() {
	im.mu.Lock()
	if im.isMonitoring {
		im.mu.Unlock()
		return
	}
	im.isMonitoring = true
	done := make(chan struct{})
	im.done = done
	im.mu.Unlock()

	go func() {
		defer close(done)
		evChan := im.start()
		defer im.end()

		for {
			im.mu.Lock()
			monitoring := im.isMonitoring
			im.mu.Unlock()
			if !monitoring {
				return
			}

			select {
			case ev, ok := <-evChan:
				if !ok {
					return
				}
				switch ev.Kind {
				case hook.KeyDown, hook.KeyHold:
					im.counter.MarkKeyboard()
				case hook.MouseDown, hook.MouseMove, hook.MouseDrag, hook.MouseWheel:
					im.counter.MarkMouse()
				}
			case <-time.After(100 * time.Millisecond):
				// Re-check the monitoring flag periodically.
			}
		}
	}()
}

// StopMonitoring stops the hook session and waits for its goroutine to exit,
// so a following StartMonitoring can never overlap two hook sessions.
func (im *InputMonitor) StopMonitoring() {
	im.mu.Lock()
	if !im.isMonitoring {
		im.mu.Unlock()
		return
	}
	im.isMonitoring = false
	done := im.done
	im.mu.Unlock()

	if done != nil {
		<-done
	}
}
