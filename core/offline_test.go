package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/worktrack/agent/internal/types"
)

// recordingNotifier counts notifications for assertions; the proof channel
// is supplied by the test.
type recordingNotifier struct {
	mu            sync.Mutex
	proofAnswer   chan bool
	proofRequests int
	proofResults  []bool
	paused        int
	lost          int
	restored      int
}

func (n *recordingNotifier) RequestActivityProof(grace time.Duration) <-chan bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proofRequests++
	return n.proofAnswer
}

func (n *recordingNotifier) ActivityProofResult(accepted bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proofResults = append(n.proofResults, accepted)
}

func (n *recordingNotifier) TimerStarted() {}
func (n *recordingNotifier) TimerStopped() {}
func (n *recordingNotifier) TrackerPausedDueToInactivity() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused++
}
func (n *recordingNotifier) ScreenshotCaptured(string) {}
func (n *recordingNotifier) ConnectionLost() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lost++
}
func (n *recordingNotifier) ConnectionRestored() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.restored++
}

// scriptedProber replays a fixed sequence of probe outcomes.
type scriptedProber struct {
	mu      sync.Mutex
	results []error
}

func (p *scriptedProber) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

type panicProber struct{}

func (panicProber) Ping(ctx context.Context) error { panic("prober exploded") }

func TestOfflineSingleFailureFlipsOffline(t *testing.T) {
	dao := newTestDAO(t)
	notifier := &recordingNotifier{}
	prober := &scriptedProber{results: []error{errTest("connection refused")}}
	h := NewOfflineModeHandler(prober, dao, notifier, time.Minute)

	h.CheckOnce(context.Background())

	if !h.Offline() {
		t.Fatal("one failed probe while online must flip state to offline")
	}
	if notifier.lost != 1 {
		t.Fatalf("expected one ConnectionLost notification, got %d", notifier.lost)
	}
	if h.window == nil || h.window.ID == 0 {
		t.Fatal("expected an offline window persisted on the transition")
	}
}

func TestOfflineNeedsTwoSuccessesToRecover(t *testing.T) {
	dao := newTestDAO(t)
	notifier := &recordingNotifier{}
	prober := &scriptedProber{results: []error{
		errTest("connection refused"), nil, nil,
	}}
	h := NewOfflineModeHandler(prober, dao, notifier, time.Minute)

	var restored []types.OfflineWindow
	h.OnRestored(func(w types.OfflineWindow) { restored = append(restored, w) })

	ctx := context.Background()
	h.CheckOnce(ctx) // failure: offline
	h.CheckOnce(ctx) // first success: still offline
	if !h.Offline() {
		t.Fatal("a single success must not end the outage")
	}
	h.CheckOnce(ctx) // second success: online
	if h.Offline() {
		t.Fatal("two consecutive successes must restore online state")
	}
	if notifier.restored != 1 {
		t.Fatalf("expected one ConnectionRestored notification, got %d", notifier.restored)
	}
	if len(restored) != 1 {
		t.Fatalf("expected reconciliation hook to run once, got %d", len(restored))
	}
	if restored[0].StoppedAt == nil || restored[0].StoppedAt.Before(restored[0].StartedAt) {
		t.Fatalf("outage window must be closed with StoppedAt >= StartedAt, got %+v", restored[0])
	}
}

func TestOfflineFailureResetsSuccessStreak(t *testing.T) {
	dao := newTestDAO(t)
	notifier := &recordingNotifier{}
	prober := &scriptedProber{results: []error{
		errTest("refused"), nil, errTest("refused"), nil, nil,
	}}
	h := NewOfflineModeHandler(prober, dao, notifier, time.Minute)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		h.CheckOnce(ctx)
	}
	if !h.Offline() {
		t.Fatal("a failure between successes must reset the streak")
	}
	h.CheckOnce(ctx)
	if h.Offline() {
		t.Fatal("expected recovery after two uninterrupted successes")
	}
}

func TestOfflineSuccessWhileOnlineIsNoOp(t *testing.T) {
	dao := newTestDAO(t)
	notifier := &recordingNotifier{}
	h := NewOfflineModeHandler(&scriptedProber{}, dao, notifier, time.Minute)

	h.CheckOnce(context.Background())
	if h.Offline() || notifier.restored != 0 {
		t.Fatal("a success while already online must change nothing")
	}
}

func TestOfflineRepeatedFailuresOpenOneWindow(t *testing.T) {
	dao := newTestDAO(t)
	notifier := &recordingNotifier{}
	prober := &scriptedProber{results: []error{
		errTest("refused"), errTest("refused"), errTest("refused"),
	}}
	h := NewOfflineModeHandler(prober, dao, notifier, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.CheckOnce(ctx)
	}
	if notifier.lost != 1 {
		t.Fatalf("repeated failures while offline must not renotify, got %d", notifier.lost)
	}
}

func TestOfflineProberPanicCountsAsFailure(t *testing.T) {
	dao := newTestDAO(t)
	notifier := &recordingNotifier{}
	h := NewOfflineModeHandler(panicProber{}, dao, notifier, time.Minute)

	h.CheckOnce(context.Background())
	if !h.Offline() {
		t.Fatal("a panicking prober must count as a failed probe")
	}
}
