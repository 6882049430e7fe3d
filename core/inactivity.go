package core

import (
	"sync"
	"time"

	"github.com/worktrack/agent/internal/logging"
)

// TrackingControl is the slice of the orchestrator the inactivity detector
// and power manager drive.
type TrackingControl interface {
	PauseTracking()
	ResumeTracking()
}

// InactivityDetector watches OS idle time and, once the configured limit is
// crossed, asks the user to prove they are still working. No proof within
// the grace window pauses the tracker.
//
// States: idle-detecting -> proof-requested -> accepted (resume detection)
//
//	| rejected (tracker paused).
//
// Exactly one of {grace-timer fire, user response} resolves an episode; the
// second arrival is a no-op.
type InactivityDetector struct {
	idle     IdleProber
	notifier Notifier
	control  TrackingControl

	inactivityLimit time.Duration
	proofDuration   time.Duration
	pollInterval    time.Duration

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	resolved bool
	grace    *time.Timer
}

func NewInactivityDetector(idle IdleProber, notifier Notifier, control TrackingControl, inactivityLimit, proofDuration time.Duration) *InactivityDetector {
	return &InactivityDetector{
		idle:            idle,
		notifier:        notifier,
		control:         control,
		inactivityLimit: inactivityLimit,
		proofDuration:   proofDuration,
		pollInterval:    time.Second,
	}
}

// StartInactivityDetection begins the idle poll. Calling it while already
// running is a no-op.
func (d *InactivityDetector) StartInactivityDetection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startLocked()
}

func (d *InactivityDetector) startLocked() {
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
}

// Stop halts idle polling and cancels any pending grace timer.
func (d *InactivityDetector) Stop() {
	d.mu.Lock()
	if d.grace != nil {
		d.grace.Stop()
		d.grace = nil
	}
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()
	<-done
}

func (d *InactivityDetector) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			idleFor, err := d.idle.IdleTime()
			if err != nil {
				logging.Debugf("inactivity idle probe failed: %v", err)
				continue
			}
			if idleFor >= d.inactivityLimit {
				d.requestProof()
				return
			}
		}
	}
}

// requestProof stops idle polling and races the grace timer against the
// user's answer.
func (d *InactivityDetector) requestProof() {
	d.mu.Lock()
	d.running = false
	d.resolved = false
	d.mu.Unlock()

	logging.Infof("inactivity limit reached, requesting activity proof")
	answer := d.notifier.RequestActivityProof(d.proofDuration)

	graceFired := make(chan struct{})
	d.mu.Lock()
	d.grace = time.AfterFunc(d.proofDuration, func() { close(graceFired) })
	d.mu.Unlock()

	go func() {
		select {
		case stillWorking, ok := <-answer:
			d.resolve(ok && stillWorking)
		case <-graceFired:
			d.resolve(false)
		}
	}()
}

// resolve finishes one inactivity episode; only the first caller wins.
func (d *InactivityDetector) resolve(accepted bool) {
	d.mu.Lock()
	if d.resolved {
		d.mu.Unlock()
		return
	}
	d.resolved = true
	if d.grace != nil {
		d.grace.Stop()
		d.grace = nil
	}
	d.mu.Unlock()

	d.notifier.ActivityProofResult(accepted)
	if accepted {
		d.control.ResumeTracking()
		d.mu.Lock()
		d.startLocked()
		d.mu.Unlock()
		return
	}
	d.control.PauseTracking()
	d.notifier.TrackerPausedDueToInactivity()
}
