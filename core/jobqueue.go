package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// JobType tags the payload of a queued job. Dispatch goes through a handler
// registered per tag, so an unhandled tag is a programming error surfaced at
// enqueue time rather than a silently dropped job.
type JobType int

const (
	JobInsertWindowEvent JobType = iota
	JobInsertAFKEvent
	JobInsertBrowserEvent
	JobRemoveSyncedEvents
	JobUpdateTimerDuration
	JobSaveFailedRequest
	JobLinkTimeSlot
)

func (t JobType) String() string {
	switch t {
	case JobInsertWindowEvent:
		return "insert-window-event"
	case JobInsertAFKEvent:
		return "insert-afk-event"
	case JobInsertBrowserEvent:
		return "insert-browser-event"
	case JobRemoveSyncedEvents:
		return "remove-synced-events"
	case JobUpdateTimerDuration:
		return "update-duration-timer"
	case JobSaveFailedRequest:
		return "save-failed-request"
	case JobLinkTimeSlot:
		return "update-timer-time-slot"
	}
	return "unknown"
}

// Job payloads, one struct per tag.
type (
	InsertWindowEventPayload struct {
		Event types.WindowEvent
	}
	InsertAFKEventPayload struct {
		Event types.AFKEvent
	}
	InsertBrowserEventPayload struct {
		Kind  types.BrowserKind
		Event types.ChromeEvent
	}
	RemoveSyncedEventsPayload struct {
		TimerID string
	}
	UpdateTimerDurationPayload struct {
		TimerID  string
		Duration int64
	}
	SaveFailedRequestPayload struct {
		Kind    string
		Payload interface{}
		Message string
	}
	LinkTimeSlotPayload struct {
		TimerID    string
		TimeSlotID string
	}
)

// Job is one durable unit of local work.
type Job struct {
	Type      JobType
	Payload   interface{}
	CreatedAt time.Time
}

// JobHandler processes one job payload.
type JobHandler func(payload interface{}) error

const (
	jobMaxRetries = 3
	jobRetryDelay = 3 * time.Second
	jobBuffer     = 256
)

// JobQueue runs one serial consumer per job type: writes to a given table
// from a given producer stay strictly ordered, while unrelated job types do
// not block each other. Queues are created lazily on first enqueue.
//
// Worker channels are never closed, so a producer racing shutdown cannot
// panic; Close signals the quit channel instead and each consumer finishes
// its buffered work before exiting.
//
// Retry policy: transient local-store contention (IsLockError) is retried up
// to jobMaxRetries times with a fixed delay; any other error fails the job
// immediately. A job that exhausts its budget is recorded as a FailedRequest.
type JobQueue struct {
	dao  *EventDAO
	quit chan struct{}

	mu       sync.Mutex
	handlers map[JobType]JobHandler
	workers  map[JobType]chan Job
	wg       sync.WaitGroup
	closed   bool

	// retryDelay is a field so tests can shrink the backoff.
	retryDelay time.Duration
}

func NewJobQueue(dao *EventDAO) *JobQueue {
	q := &JobQueue{
		dao:        dao,
		quit:       make(chan struct{}),
		handlers:   make(map[JobType]JobHandler),
		workers:    make(map[JobType]chan Job),
		retryDelay: jobRetryDelay,
	}
	q.registerDefaults()
	return q
}

// Register installs the handler for a job type, replacing any previous one.
func (q *JobQueue) Register(jobType JobType, handler JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *JobQueue) registerDefaults() {
	q.handlers[JobInsertWindowEvent] = func(payload interface{}) error {
		p, ok := payload.(InsertWindowEventPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobInsertWindowEvent)
		}
		return q.dao.UpsertWindowEvent(&p.Event)
	}
	q.handlers[JobInsertAFKEvent] = func(payload interface{}) error {
		p, ok := payload.(InsertAFKEventPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobInsertAFKEvent)
		}
		return q.dao.UpsertAFKEvent(&p.Event)
	}
	q.handlers[JobInsertBrowserEvent] = func(payload interface{}) error {
		p, ok := payload.(InsertBrowserEventPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobInsertBrowserEvent)
		}
		return q.dao.UpsertBrowserEvent(p.Kind, &p.Event)
	}
	q.handlers[JobRemoveSyncedEvents] = func(payload interface{}) error {
		p, ok := payload.(RemoveSyncedEventsPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobRemoveSyncedEvents)
		}
		return q.dao.RemoveSynced(p.TimerID)
	}
	q.handlers[JobUpdateTimerDuration] = func(payload interface{}) error {
		p, ok := payload.(UpdateTimerDurationPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobUpdateTimerDuration)
		}
		return q.dao.UpdateTimerDuration(p.TimerID, p.Duration)
	}
	q.handlers[JobSaveFailedRequest] = func(payload interface{}) error {
		p, ok := payload.(SaveFailedRequestPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobSaveFailedRequest)
		}
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			raw = []byte("{}")
		}
		return q.dao.SaveFailedRequest(&types.FailedRequest{
			Kind:    p.Kind,
			Payload: string(raw),
			Message: p.Message,
		})
	}
	q.handlers[JobLinkTimeSlot] = func(payload interface{}) error {
		p, ok := payload.(LinkTimeSlotPayload)
		if !ok {
			return fmt.Errorf("bad payload for %s", JobLinkTimeSlot)
		}
		return q.dao.LinkTimerTimeSlot(p.TimerID, p.TimeSlotID)
	}
}

// Enqueue appends a job to its type's serial queue, creating the queue on
// first use. Returns an error only when the queue is closed or the type has
// no registered handler.
func (q *JobQueue) Enqueue(jobType JobType, payload interface{}) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("job queue is closed")
	}
	if _, ok := q.handlers[jobType]; !ok {
		q.mu.Unlock()
		return fmt.Errorf("no handler registered for job type %s", jobType)
	}
	worker, ok := q.workers[jobType]
	if !ok {
		worker = make(chan Job, jobBuffer)
		q.workers[jobType] = worker
		q.wg.Add(1)
		go q.drain(worker)
	}
	q.mu.Unlock()

	// A producer waiting on a full buffer is released by the quit signal
	// rather than left racing a channel close.
	select {
	case worker <- Job{Type: jobType, Payload: payload, CreatedAt: time.Now()}:
		return nil
	case <-q.quit:
		return fmt.Errorf("job queue is closed")
	}
}

// drain is the single consumer for one job type. After the quit signal it
// finishes whatever is still buffered, then exits.
func (q *JobQueue) drain(jobs <-chan Job) {
	defer q.wg.Done()
	for {
		select {
		case job := <-jobs:
			q.process(job)
		case <-q.quit:
			for {
				select {
				case job := <-jobs:
					q.process(job)
				default:
					return
				}
			}
		}
	}
}

func (q *JobQueue) process(job Job) {
	q.mu.Lock()
	handler := q.handlers[job.Type]
	delay := q.retryDelay
	q.mu.Unlock()

	var err error
	for attempt := 0; attempt <= jobMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			logging.Verbosef("retrying %s job (attempt %d/%d)", job.Type, attempt+1, jobMaxRetries+1)
		}
		err = handler(job.Payload)
		if err == nil {
			return
		}
		if !IsLockError(err) {
			// Non-transient: fail immediately, no retry loop.
			logging.Errorf("%s job failed: %v", job.Type, err)
			return
		}
	}

	// Retry budget exhausted on contention: keep the work as a failed
	// request so it is never silently dropped.
	logging.Errorf("%s job abandoned after %d attempts: %v", job.Type, jobMaxRetries+1, err)
	if job.Type == JobSaveFailedRequest {
		return
	}
	raw, marshalErr := json.Marshal(job.Payload)
	if marshalErr != nil {
		raw = []byte("{}")
	}
	saveErr := q.dao.SaveFailedRequest(&types.FailedRequest{
		Kind:    job.Type.String(),
		Payload: string(raw),
		Message: err.Error(),
	})
	if saveErr != nil {
		logging.Errorf("failed to record abandoned %s job: %v", job.Type, saveErr)
	}
}

// Close stops accepting jobs and waits for every queue to drain.
func (q *JobQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()
	q.wg.Wait()
}
