package core

import (
	"context"
	"sync"
	"time"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// ConnectivityProber checks remote reachability, normally an HTTP GET
// against the API health endpoint.
type ConnectivityProber interface {
	Ping(ctx context.Context) error
}

// OfflineModeHandler tracks online/offline state with a periodic probe.
//
// Entering offline is eager: a single failed probe while online flips the
// state and opens an OfflineWindow. Leaving offline is conservative: a probe
// must succeed twice in a row before the handler declares the connection
// restored, closes the window and triggers reconciliation. A panic or error
// during probing counts as a failed probe, never as a crash.
type OfflineModeHandler struct {
	prober   ConnectivityProber
	dao      *EventDAO
	notifier Notifier
	interval time.Duration

	// onRestored runs after the state flips back online, with the outage
	// window that just closed.
	onRestored func(window types.OfflineWindow)

	mu            sync.Mutex
	offline       bool
	successStreak int
	window        *types.OfflineWindow
	running       bool
	stop          chan struct{}
	done          chan struct{}
}

func NewOfflineModeHandler(prober ConnectivityProber, dao *EventDAO, notifier Notifier, interval time.Duration) *OfflineModeHandler {
	if interval <= 0 {
		interval = 40 * time.Second
	}
	return &OfflineModeHandler{
		prober:   prober,
		dao:      dao,
		notifier: notifier,
		interval: interval,
	}
}

// OnRestored registers the reconciliation hook.
func (h *OfflineModeHandler) OnRestored(fn func(window types.OfflineWindow)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRestored = fn
}

// Offline reports the current state.
func (h *OfflineModeHandler) Offline() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offline
}

// Start launches the probe loop.
func (h *OfflineModeHandler) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	stop, done := h.stop, h.done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				h.CheckOnce(ctx)
			}
		}
	}()
}

// Stop halts the probe loop.
func (h *OfflineModeHandler) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stop)
	done := h.done
	h.mu.Unlock()
	<-done
}

// CheckOnce performs a single probe and applies the state transition rules.
// Exported so tests (and a manual "check now" action) can drive it directly.
func (h *OfflineModeHandler) CheckOnce(ctx context.Context) {
	err := h.probe(ctx)
	if err != nil {
		h.onProbeFailure(err)
		return
	}
	h.onProbeSuccess()
}

// probe shields the loop from a panicking prober.
func (h *OfflineModeHandler) probe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = context.DeadlineExceeded
			logging.Errorf("connectivity probe panicked: %v", r)
		}
	}()
	return h.prober.Ping(ctx)
}

func (h *OfflineModeHandler) onProbeFailure(err error) {
	h.mu.Lock()
	h.successStreak = 0
	if h.offline {
		h.mu.Unlock()
		return
	}
	h.offline = true
	startedAt := time.Now()
	h.mu.Unlock()

	logging.Warnf("connectivity probe failed, going offline: %v", err)
	h.notifier.ConnectionLost()

	window, daoErr := h.dao.OpenOfflineWindow(startedAt)
	if daoErr != nil {
		logging.Errorf("failed to record offline window: %v", daoErr)
		window = &types.OfflineWindow{StartedAt: startedAt}
	}
	h.mu.Lock()
	h.window = window
	h.mu.Unlock()
}

func (h *OfflineModeHandler) onProbeSuccess() {
	h.mu.Lock()
	if !h.offline {
		h.mu.Unlock()
		return
	}
	h.successStreak++
	if h.successStreak < 2 {
		h.mu.Unlock()
		return
	}
	h.offline = false
	h.successStreak = 0
	window := h.window
	h.window = nil
	restored := h.onRestored
	h.mu.Unlock()

	stoppedAt := time.Now()
	if window != nil {
		window.StoppedAt = &stoppedAt
		if window.ID != 0 {
			if err := h.dao.CloseOfflineWindow(window.ID, stoppedAt); err != nil {
				logging.Errorf("failed to close offline window: %v", err)
			}
		}
	}

	logging.Infof("connectivity restored after outage")
	h.notifier.ConnectionRestored()
	if restored != nil && window != nil {
		restored(*window)
	}
}
