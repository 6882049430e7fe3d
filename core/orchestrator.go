package core

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// ExtensionCollector asks a connected browser-extension bridge to push its
// buffered tab events into the local store. Optional; the orchestrator only
// calls it while the awIsConnected setting is true.
type ExtensionCollector interface {
	Collect(ctx context.Context, timerID string) error
}

// afkThreshold is how long the OS idle clock must run before the current
// second starts counting as away-from-keyboard.
const afkThreshold = 30 * time.Second

// SessionContext describes the run being started. Empty fields fall back to
// the stored project context and auth documents.
type SessionContext struct {
	ProjectID string
	TaskID    string
}

// TimerOrchestrator owns the tracking lifecycle: it wires the window poller,
// the event counter and the activity merger together, drives the 1 s
// collection tick and the flush boundary, and reacts to pause/resume from
// the inactivity detector and the power manager.
type TimerOrchestrator struct {
	store    *LocalStore
	dao      *EventDAO
	queue    *JobQueue
	poller   *ActivePollerWindow
	counter  *EventCounter
	input    *InputMonitor
	merger   *ActivityMerger
	sink     FlushSink
	notifier Notifier
	idle     IdleProber

	collector ExtensionCollector

	collectInterval time.Duration

	mu        sync.Mutex
	timer     *types.Timer
	running   bool
	paused    bool
	stop      chan struct{}
	done      chan struct{}
	lastFlush time.Time

	afkEventID string
	afkStart   time.Time

	rng *rand.Rand
}

func NewTimerOrchestrator(
	store *LocalStore,
	dao *EventDAO,
	queue *JobQueue,
	poller *ActivePollerWindow,
	counter *EventCounter,
	input *InputMonitor,
	merger *ActivityMerger,
	sink FlushSink,
	notifier Notifier,
	idle IdleProber,
) *TimerOrchestrator {
	return &TimerOrchestrator{
		store:           store,
		dao:             dao,
		queue:           queue,
		poller:          poller,
		counter:         counter,
		input:           input,
		merger:          merger,
		sink:            sink,
		notifier:        notifier,
		idle:            idle,
		collectInterval: time.Second,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetExtensionCollector wires an optional browser-extension bridge.
func (o *TimerOrchestrator) SetExtensionCollector(c ExtensionCollector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collector = c
}

// Timer returns the session being tracked, or nil when stopped.
func (o *TimerOrchestrator) Timer() *types.Timer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timer
}

// SetTimeLog attaches the remote time log to the active session. Flushes read
// the id concurrently, so the write goes through the orchestrator lock.
func (o *TimerOrchestrator) SetTimeLog(timeLogID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		id := timeLogID
		o.timer.TimeLogID = &id
	}
}

// Start creates the timer session and launches every sampler and tick the
// run needs. It fails when a run is already active.
func (o *TimerOrchestrator) Start(ctx context.Context, session SessionContext) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("tracking already started")
	}
	o.mu.Unlock()

	auth, err := o.store.Auth()
	if err != nil {
		return err
	}
	if session.ProjectID == "" || session.TaskID == "" {
		project, err := o.store.ProjectContext()
		if err != nil {
			return err
		}
		if session.ProjectID == "" {
			session.ProjectID = project.ProjectID
		}
		if session.TaskID == "" {
			session.TaskID = project.TaskID
		}
	}

	now := time.Now()
	timer := &types.Timer{
		ID:         uuid.NewString(),
		EmployeeID: auth.EmployeeID,
		ProjectID:  session.ProjectID,
		TaskID:     session.TaskID,
		StartedAt:  now,
		IsRunning:  true,
	}
	if err := o.dao.CreateTimer(timer); err != nil {
		return err
	}
	if err := o.store.SetTimerStarted(true); err != nil {
		logging.Warnf("failed to persist timer state: %v", err)
	}

	o.mu.Lock()
	o.timer = timer
	o.running = true
	o.paused = false
	o.lastFlush = now
	o.afkEventID = ""
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	stop, done := o.stop, o.done
	o.mu.Unlock()

	o.poller.Start()
	o.counter.Start()
	o.input.StartMonitoring()
	o.notifier.TimerStarted()
	logging.Infof("tracking started for timer %s", timer.ID)

	go o.run(ctx, stop, done)
	return nil
}

func (o *TimerOrchestrator) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	collect := time.NewTicker(o.collectInterval)
	defer collect.Stop()
	flush := time.NewTimer(o.nextFlushDelay())
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case delta := <-o.poller.Deltas():
			o.handleDelta(delta)
		case <-collect.C:
			o.collectTick(ctx)
		case <-flush.C:
			o.flush(ctx, false)
			flush.Reset(o.nextFlushDelay())
		}
	}
}

// handleDelta persists one focus span observation through the job queue.
func (o *TimerOrchestrator) handleDelta(delta WindowDelta) {
	o.mu.Lock()
	timer := o.timer
	paused := o.paused
	o.mu.Unlock()
	if timer == nil {
		return
	}
	// An opening delta while paused is sampling noise, but a closing delta
	// carries time spent before the pause and must still land in the store,
	// or the span stays at zero duration and the merger charges the whole
	// pause to that window.
	if paused && delta.Duration == 0 {
		return
	}

	err := o.queue.Enqueue(JobInsertWindowEvent, InsertWindowEventPayload{
		Event: types.WindowEvent{
			EventID:    delta.EventID,
			TimerID:    timer.ID,
			Type:       string(types.EventTypeApp),
			Duration:   int64(delta.Duration.Seconds()),
			Data:       delta.App.Encode(),
			RecordedAt: delta.Timestamp,
		},
	})
	if err != nil {
		logging.Errorf("failed to queue window event: %v", err)
	}
}

// collectTick runs once per second while tracking is active.
func (o *TimerOrchestrator) collectTick(ctx context.Context) {
	o.mu.Lock()
	timer := o.timer
	paused := o.paused
	collector := o.collector
	o.mu.Unlock()
	if timer == nil || paused {
		return
	}

	o.mu.Lock()
	o.timer.Duration++
	duration := o.timer.Duration
	o.mu.Unlock()

	err := o.queue.Enqueue(JobUpdateTimerDuration, UpdateTimerDurationPayload{
		TimerID:  timer.ID,
		Duration: duration,
	})
	if err != nil {
		logging.Errorf("failed to queue duration update: %v", err)
	}

	o.sampleAFK(timer.ID)

	if collector != nil {
		if app, err := o.store.AppSetting(); err == nil && app.AWIsConnected {
			if err := collector.Collect(ctx, timer.ID); err != nil {
				logging.Debugf("extension collection failed: %v", err)
			}
		}
	}
}

// sampleAFK turns the OS idle clock into AFK event spans. One episode keeps
// one event id, so every tick's upsert grows the same row.
func (o *TimerOrchestrator) sampleAFK(timerID string) {
	if o.idle == nil {
		return
	}
	idleFor, err := o.idle.IdleTime()
	if err != nil {
		logging.Debugf("afk idle probe failed: %v", err)
		return
	}

	now := time.Now()
	o.mu.Lock()
	if idleFor < afkThreshold {
		o.afkEventID = ""
		o.mu.Unlock()
		return
	}
	if o.afkEventID == "" {
		o.afkEventID = uuid.NewString()
		o.afkStart = now.Add(-idleFor)
		// An episode already running at the last flush boundary was counted
		// up to that boundary, and its old row is pruned once synced. The
		// fresh row starts at the boundary so the remainder stays visible to
		// the next merge.
		if o.afkStart.Before(o.lastFlush) {
			o.afkStart = o.lastFlush
		}
	}
	eventID, start := o.afkEventID, o.afkStart
	o.mu.Unlock()

	err = o.queue.Enqueue(JobInsertAFKEvent, InsertAFKEventPayload{
		Event: types.AFKEvent{
			EventID:    eventID,
			TimerID:    timerID,
			Type:       string(types.EventTypeAFK),
			Duration:   int64(now.Sub(start).Seconds()),
			Data:       "{}",
			RecordedAt: start,
		},
	})
	if err != nil {
		logging.Errorf("failed to queue afk event: %v", err)
	}
}

// flush finalizes the period since the last flush boundary and hands the
// bundle to the screenshot/upload collaborator. The periodic path runs the
// sink in the background; the stop path waits for it so shutdown cannot kill
// the final period's upload mid-flight.
func (o *TimerOrchestrator) flush(ctx context.Context, wait bool) {
	o.mu.Lock()
	timer := o.timer
	paused := o.paused
	since := o.lastFlush
	var timeLogID *string
	if timer != nil {
		timeLogID = timer.TimeLogID
	}
	o.mu.Unlock()
	if timer == nil || paused {
		return
	}

	now := time.Now()
	merged := o.merger.Merge(timer.ID, since)

	elapsed := int64(now.Sub(since).Seconds())
	durationNonAFK := elapsed - merged.AFKDuration
	if durationNonAFK < 0 {
		durationNonAFK = 0
	}

	// Overall activity is the AFK-adjusted share of merged window time; the
	// keyboard and mouse figures stay with the input counter. With no window
	// data in the period the counter's system figure stands in.
	systemPct := o.counter.SystemPercentage()
	if merged.TotalDuration > 0 {
		share, _, _ := merged.Percentages()
		systemPct = int(math.Round(share * 100))
	}

	bundle := types.FlushBundle{
		TimerID:            timer.ID,
		TimeLogID:          timeLogID,
		StartedAt:          since,
		StoppedAt:          now,
		Activities:         merged.Activities,
		EventIDs:           merged.EventIDs,
		Duration:           elapsed,
		DurationNonAFK:     durationNonAFK,
		KeyboardPercentage: o.counter.KeyboardPercentage(),
		MousePercentage:    o.counter.MousePercentage(),
		SystemPercentage:   systemPct,
	}

	o.mu.Lock()
	o.lastFlush = now
	// A still running AFK episode restarts under a fresh id so its remainder
	// is not filed before the new boundary and lost to pruning.
	o.afkEventID = ""
	o.mu.Unlock()

	if wait {
		o.sink.HandleFlush(ctx, bundle)
	} else {
		go o.sink.HandleFlush(ctx, bundle)
	}

	if app, err := o.store.AppSetting(); err == nil {
		if o.counter.IntervalSeconds() >= app.UpdatePeriodMinutes*60 {
			o.counter.Reset()
		}
	}
}

// nextFlushDelay returns the configured period, jittered when randomized
// screenshot timing is enabled: +/-20 s at a 1 minute period, +/-60 s above.
func (o *TimerOrchestrator) nextFlushDelay() time.Duration {
	app, err := o.store.AppSetting()
	if err != nil {
		logging.Warnf("failed to read update period: %v", err)
		return 10 * time.Minute
	}
	period := time.Duration(app.UpdatePeriodMinutes) * time.Minute
	if !app.RandomScreenshotTime {
		return period
	}

	jitter := 60 * time.Second
	if app.UpdatePeriodMinutes <= 1 {
		jitter = 20 * time.Second
	}
	o.mu.Lock()
	offset := time.Duration(o.rng.Int63n(int64(2*jitter))) - jitter
	o.mu.Unlock()
	delay := period + offset
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}

// PauseTracking suspends sampling without tearing the session down. Part of
// TrackingControl for the inactivity detector and power manager.
func (o *TimerOrchestrator) PauseTracking() {
	o.mu.Lock()
	if !o.running || o.paused {
		o.mu.Unlock()
		return
	}
	o.paused = true
	o.mu.Unlock()

	o.poller.Stop()
	o.counter.Stop()
	o.input.StopMonitoring()
	// The poller closed its in-progress span on stop; persist it even though
	// sampling is now suspended.
	o.drainDeltas()
	logging.Infof("tracking paused")
}

// drainDeltas persists whatever span observations the poller still has
// buffered.
func (o *TimerOrchestrator) drainDeltas() {
	for {
		select {
		case delta := <-o.poller.Deltas():
			o.handleDelta(delta)
		default:
			return
		}
	}
}

// ResumeTracking restarts sampling after a pause.
func (o *TimerOrchestrator) ResumeTracking() {
	o.mu.Lock()
	if !o.running || !o.paused {
		o.mu.Unlock()
		return
	}
	o.paused = false
	o.mu.Unlock()

	o.poller.Start()
	o.counter.Start()
	o.input.StartMonitoring()
	logging.Infof("tracking resumed")
}

// Stop halts every ticker the run owns, performs one final tail flush and
// marks the session stopped. Safe to call when not running.
func (o *TimerOrchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stop)
	done := o.done
	timer := o.timer
	o.mu.Unlock()
	<-done

	o.poller.Stop()
	o.counter.Stop()
	o.input.StopMonitoring()

	// The poller's final span is sitting in its channel; persist it so the
	// tail flush below can see it.
	o.drainDeltas()

	// Cover the tail of the period before declaring the session closed. The
	// sink runs to completion here so the caller can close the job queue
	// right after Stop returns.
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.flush(ctx, true)

	now := time.Now()
	if err := o.dao.StopTimer(timer.ID, now); err != nil {
		logging.Errorf("failed to mark timer stopped: %v", err)
	}
	if err := o.store.SetTimerStarted(false); err != nil {
		logging.Warnf("failed to persist timer state: %v", err)
	}

	o.mu.Lock()
	o.timer = nil
	o.mu.Unlock()

	o.notifier.TimerStopped()
	logging.Infof("tracking stopped for timer %s", timer.ID)
}
