package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// WindowProber reads the current foreground application. The Linux
// implementation lives in internal/platform; tests supply fakes.
type WindowProber interface {
	ActiveWindow() (types.AppData, error)
}

// WindowDelta describes one focus span. Every span is emitted twice under
// the same EventID: once with Duration 0 when the window gains focus, and
// once with the accumulated duration when focus leaves. Downstream upserts
// merge the two into a single row, which is also what keeps replays after a
// crash from duplicating anything.
type WindowDelta struct {
	EventID   string
	Timestamp time.Time // span start
	Duration  time.Duration
	App       types.AppData
}

// ActivePollerWindow polls the OS for the foreground window once per second
// and emits deltas on change of (executablePath, title, url). A failed poll
// is logged and swallowed; it must never stall the interval.
type ActivePollerWindow struct {
	prober   WindowProber
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	last      *types.AppData
	spanID    string
	spanStart time.Time
	deltas    chan WindowDelta
}

func NewActivePollerWindow(prober WindowProber, interval time.Duration) *ActivePollerWindow {
	if interval <= 0 {
		interval = time.Second
	}
	return &ActivePollerWindow{
		prober:   prober,
		interval: interval,
		deltas:   make(chan WindowDelta, 64),
	}
}

// Deltas is the stream of focus spans. The channel is buffered; if the
// consumer falls a full buffer behind, the oldest delta is dropped.
func (p *ActivePollerWindow) Deltas() <-chan WindowDelta {
	return p.deltas
}

// Start begins polling. A second call while running is a no-op.
func (p *ActivePollerWindow) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.last = nil

	go p.loop(p.stop, p.done)
}

// Stop halts polling and closes the in-progress span so its duration is not
// lost.
func (p *ActivePollerWindow) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil {
		p.emit(WindowDelta{
			EventID:   p.spanID,
			Timestamp: p.spanStart,
			Duration:  time.Since(p.spanStart),
			App:       *p.last,
		})
		p.last = nil
	}
}

func (p *ActivePollerWindow) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *ActivePollerWindow) poll() {
	current, err := p.prober.ActiveWindow()
	if err != nil {
		logging.Debugf("window poll failed: %v", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	now := time.Now()
	if p.last != nil && p.last.Same(current) {
		return
	}

	if p.last != nil {
		// Close the previous span with its accumulated duration.
		p.emit(WindowDelta{
			EventID:   p.spanID,
			Timestamp: p.spanStart,
			Duration:  now.Sub(p.spanStart),
			App:       *p.last,
		})
	}

	p.last = &current
	p.spanID = uuid.NewString()
	p.spanStart = now
	p.emit(WindowDelta{
		EventID:   p.spanID,
		Timestamp: now,
		Duration:  0,
		App:       current,
	})
}

func (p *ActivePollerWindow) emit(delta WindowDelta) {
	select {
	case p.deltas <- delta:
	default:
		select {
		case <-p.deltas:
		default:
		}
		select {
		case p.deltas <- delta:
		default:
		}
	}
}
