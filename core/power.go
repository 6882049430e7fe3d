package core

import (
	"sync"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/platform"
)

// SleepTrackingStrategy decides what actually happens when the machine
// suspends or the screen locks. The set of variants is closed; the right one
// is picked at construction from the trackOnPcSleep setting.
type SleepTrackingStrategy interface {
	OnSuspend()
	OnResume()
}

// AlwaysSleepTracking pauses and resumes the tracker on every transition,
// regardless of the track-during-sleep setting.
type AlwaysSleepTracking struct {
	Control  TrackingControl
	Notifier Notifier
}

func (s AlwaysSleepTracking) OnSuspend() {
	s.Control.PauseTracking()
	s.Notifier.TimerStopped()
}

func (s AlwaysSleepTracking) OnResume() {
	s.Control.ResumeTracking()
	s.Notifier.TimerStarted()
}

// NeverSleepTracking ignores power transitions entirely.
type NeverSleepTracking struct{}

func (NeverSleepTracking) OnSuspend() {}
func (NeverSleepTracking) OnResume()  {}

// ControlledSleepTracking consults the trackOnPcSleep setting on each
// transition: when the user opted into tracking through sleep it no-ops.
type ControlledSleepTracking struct {
	Store    *LocalStore
	Control  TrackingControl
	Notifier Notifier
}

func (s ControlledSleepTracking) OnSuspend() {
	app, err := s.Store.AppSetting()
	if err != nil {
		logging.Errorf("failed to read sleep setting: %v", err)
		return
	}
	if app.TrackOnPcSleep {
		return
	}
	s.Control.PauseTracking()
	s.Notifier.TimerStopped()
}

func (s ControlledSleepTracking) OnResume() {
	app, err := s.Store.AppSetting()
	if err != nil {
		logging.Errorf("failed to read sleep setting: %v", err)
		return
	}
	if app.TrackOnPcSleep {
		return
	}
	s.Control.ResumeTracking()
	s.Notifier.TimerStarted()
}

// RemoteSleepTracking only notifies the UI layer; it is used by the
// inactivity rejection path and remote-lock scenarios where the pause
// decision was already made elsewhere.
type RemoteSleepTracking struct {
	Notifier Notifier
}

func (s RemoteSleepTracking) OnSuspend() { s.Notifier.TimerStopped() }
func (s RemoteSleepTracking) OnResume()  { s.Notifier.TimerStarted() }

// SleepStrategyKind selects a strategy variant.
type SleepStrategyKind int

const (
	SleepStrategyAlways SleepStrategyKind = iota
	SleepStrategyNever
	SleepStrategyControlled
	SleepStrategyRemote
)

// NewSleepStrategy builds the variant for kind.
func NewSleepStrategy(kind SleepStrategyKind, store *LocalStore, control TrackingControl, notifier Notifier) SleepTrackingStrategy {
	switch kind {
	case SleepStrategyNever:
		return NeverSleepTracking{}
	case SleepStrategyControlled:
		return ControlledSleepTracking{Store: store, Control: control, Notifier: notifier}
	case SleepStrategyRemote:
		return RemoteSleepTracking{Notifier: notifier}
	default:
		return AlwaysSleepTracking{Control: control, Notifier: notifier}
	}
}

// PowerManager reacts to OS suspend/resume/lock/unlock signals by delegating
// to the configured sleep strategy. The suspendDetected flag makes pause and
// resume idempotent: repeated suspends (or a resume without a suspend) are
// no-ops, and nothing happens unless the tracker is actually running.
type PowerManager struct {
	store    *LocalStore
	strategy SleepTrackingStrategy

	mu              sync.Mutex
	suspendDetected bool
	stop            chan struct{}
	running         bool
}

func NewPowerManager(store *LocalStore, strategy SleepTrackingStrategy) *PowerManager {
	return &PowerManager{store: store, strategy: strategy}
}

// Watch consumes power signals until the channel closes or Stop is called.
func (pm *PowerManager) Watch(signals <-chan platform.PowerSignal) {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.stop = make(chan struct{})
	stop := pm.stop
	pm.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				pm.Handle(sig)
			}
		}
	}()
}

// Handle processes a single power signal.
func (pm *PowerManager) Handle(sig platform.PowerSignal) {
	switch sig {
	case platform.SignalSuspend, platform.SignalLockScreen:
		pm.onSuspend(sig)
	case platform.SignalResume, platform.SignalUnlockScreen:
		pm.onResume(sig)
	}
}

func (pm *PowerManager) onSuspend(sig platform.PowerSignal) {
	if !pm.trackerActive() {
		return
	}
	pm.mu.Lock()
	if pm.suspendDetected {
		pm.mu.Unlock()
		return
	}
	pm.suspendDetected = true
	pm.mu.Unlock()

	logging.Infof("power signal %s, pausing tracking", sig)
	pm.strategy.OnSuspend()
}

func (pm *PowerManager) onResume(sig platform.PowerSignal) {
	pm.mu.Lock()
	if !pm.suspendDetected {
		pm.mu.Unlock()
		return
	}
	pm.suspendDetected = false
	pm.mu.Unlock()

	if !pm.trackerActive() {
		return
	}
	logging.Infof("power signal %s, resuming tracking", sig)
	pm.strategy.OnResume()
}

func (pm *PowerManager) trackerActive() bool {
	app, err := pm.store.AppSetting()
	if err != nil {
		logging.Errorf("failed to read tracker status: %v", err)
		return false
	}
	return app.TimerStarted
}

// Stop halts the watch goroutine.
func (pm *PowerManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.running {
		return
	}
	pm.running = false
	close(pm.stop)
}
