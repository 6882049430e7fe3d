package core

import (
	"sync"
	"testing"
	"time"
)

type fakeControl struct {
	mu      sync.Mutex
	paused  int
	resumed int
}

func (c *fakeControl) PauseTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused++
}

func (c *fakeControl) ResumeTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed++
}

func (c *fakeControl) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused, c.resumed
}

type mutableIdle struct {
	mu   sync.Mutex
	idle time.Duration
}

func (f *mutableIdle) IdleTime() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle, nil
}

func (f *mutableIdle) set(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = d
}

func newTestDetector(notifier *recordingNotifier, control *fakeControl, idle IdleProber, grace time.Duration) *InactivityDetector {
	d := NewInactivityDetector(idle, notifier, control, 50*time.Millisecond, grace)
	d.pollInterval = 10 * time.Millisecond
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInactivityProofAcceptedResumes(t *testing.T) {
	notifier := &recordingNotifier{proofAnswer: make(chan bool, 1)}
	control := &fakeControl{}
	idle := &mutableIdle{idle: time.Second}
	d := newTestDetector(notifier, control, idle, time.Second)
	defer d.Stop()

	d.StartInactivityDetection()
	waitFor(t, time.Second, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.proofRequests == 1
	}, "expected an activity proof request once the limit was crossed")

	idle.set(0)
	notifier.proofAnswer <- true
	waitFor(t, time.Second, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.proofResults) == 1
	}, "expected a proof result after the answer")

	notifier.mu.Lock()
	accepted := notifier.proofResults[0]
	notifier.mu.Unlock()
	if !accepted {
		t.Fatal("an affirmative answer must resolve the episode as accepted")
	}
	if paused, resumed := control.counts(); paused != 0 || resumed != 1 {
		t.Fatalf("expected resume without pause, got paused=%d resumed=%d", paused, resumed)
	}
}

func TestInactivityGraceExpiryPauses(t *testing.T) {
	notifier := &recordingNotifier{proofAnswer: make(chan bool)}
	control := &fakeControl{}
	d := newTestDetector(notifier, control, &mutableIdle{idle: time.Second}, 30*time.Millisecond)
	defer d.Stop()

	d.StartInactivityDetection()
	waitFor(t, time.Second, func() bool {
		paused, _ := control.counts()
		return paused == 1
	}, "expected the tracker paused after the grace window expired")

	notifier.mu.Lock()
	results := append([]bool(nil), notifier.proofResults...)
	pausedNotices := notifier.paused
	notifier.mu.Unlock()
	if len(results) != 1 || results[0] {
		t.Fatalf("expected exactly one rejected proof result, got %v", results)
	}
	if pausedNotices != 1 {
		t.Fatalf("expected one pause notification, got %d", pausedNotices)
	}
}

func TestInactivityLateAnswerIsIgnored(t *testing.T) {
	notifier := &recordingNotifier{proofAnswer: make(chan bool, 1)}
	control := &fakeControl{}
	d := newTestDetector(notifier, control, &mutableIdle{idle: time.Second}, 20*time.Millisecond)
	defer d.Stop()

	d.StartInactivityDetection()
	waitFor(t, time.Second, func() bool {
		paused, _ := control.counts()
		return paused == 1
	}, "expected grace expiry to pause first")

	// The user answers after the grace timer already decided.
	notifier.proofAnswer <- true
	time.Sleep(50 * time.Millisecond)

	notifier.mu.Lock()
	results := len(notifier.proofResults)
	notifier.mu.Unlock()
	if results != 1 {
		t.Fatalf("a late answer must not resolve the episode twice, got %d results", results)
	}
	if _, resumed := control.counts(); resumed != 0 {
		t.Fatalf("a late answer must not resume tracking, got %d resumes", resumed)
	}
}

func TestInactivityAcceptedRestartsDetection(t *testing.T) {
	notifier := &recordingNotifier{proofAnswer: make(chan bool, 2)}
	control := &fakeControl{}
	idle := &mutableIdle{idle: time.Second}
	d := newTestDetector(notifier, control, idle, time.Second)
	defer d.Stop()

	d.StartInactivityDetection()
	waitFor(t, time.Second, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.proofRequests == 1
	}, "expected the first proof request")

	notifier.proofAnswer <- true
	waitFor(t, time.Second, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.proofRequests == 2
	}, "an accepted proof must restart idle detection and trigger again while still idle")
}

func TestInactivityStartIdempotent(t *testing.T) {
	notifier := &recordingNotifier{proofAnswer: make(chan bool)}
	d := newTestDetector(notifier, &fakeControl{}, &mutableIdle{}, time.Second)
	d.StartInactivityDetection()
	d.StartInactivityDetection()
	d.Stop()
	d.Stop()
}
