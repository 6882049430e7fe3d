package core

import (
	"time"

	"github.com/worktrack/agent/internal/logging"
)

// Notifier is the fire-and-forget contract to the UI layer. Implementations
// must never block the tracking loops; a slow or absent UI only loses
// notifications, never samples.
type Notifier interface {
	// RequestActivityProof asks "are you still working?". The returned
	// channel delivers at most one answer; the detector races it against
	// the grace timer.
	RequestActivityProof(grace time.Duration) <-chan bool

	// ActivityProofResult reports how an inactivity episode resolved.
	ActivityProofResult(accepted bool)

	TimerStarted()
	TimerStopped()
	TrackerPausedDueToInactivity()
	ScreenshotCaptured(timeSlotID string)
	ConnectionLost()
	ConnectionRestored()
}

// LogNotifier is the headless default: it logs every notification and never
// answers an activity proof, so the grace timer always decides.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) RequestActivityProof(grace time.Duration) <-chan bool {
	logging.Infof("activity proof requested (grace %s)", grace)
	return make(chan bool)
}

func (n *LogNotifier) ActivityProofResult(accepted bool) {
	logging.Infof("activity proof result: %v", accepted)
}

func (n *LogNotifier) TimerStarted() { logging.Infof("timer started") }

func (n *LogNotifier) TimerStopped() { logging.Infof("timer stopped") }

func (n *LogNotifier) ConnectionLost() { logging.Warnf("connection lost, entering offline mode") }

func (n *LogNotifier) TrackerPausedDueToInactivity() {
	logging.Warnf("tracker stopped due to inactivity")
}

func (n *LogNotifier) ScreenshotCaptured(timeSlotID string) {
	logging.Infof("screenshot captured for time slot %s", timeSlotID)
}

func (n *LogNotifier) ConnectionRestored() {
	logging.Infof("connection restored, replaying queued work")
}
