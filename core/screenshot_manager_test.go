package core

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/worktrack/agent/internal/types"
)

type fakeUploader struct {
	mu            sync.Mutex
	timeSlotID    string
	createErr     error
	uploadErr     error
	createdCount  int
	uploadedCount int
}

func (u *fakeUploader) CreateTimeSlot(ctx context.Context, bundle types.FlushBundle) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.createdCount++
	if u.createErr != nil {
		return "", u.createErr
	}
	return u.timeSlotID, nil
}

func (u *fakeUploader) UploadScreenshot(ctx context.Context, timeSlotID string, full, thumb []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploadedCount++
	return u.uploadErr
}

type screenshotFixture struct {
	manager *ScreenshotManager
	dao     *EventDAO
	queue   *JobQueue
}

func newScreenshotFixture(t *testing.T, uploader *fakeUploader) *screenshotFixture {
	t.Helper()
	provider := newTestProvider(t)
	dao := NewEventDAO(provider)
	queue := NewJobQueue(dao)
	queue.retryDelay = time.Millisecond
	manager := NewScreenshotManager(uploader, NewLocalStore(provider), dao, queue, &recordingNotifier{}, "")
	return &screenshotFixture{manager: manager, dao: dao, queue: queue}
}

func TestHandleFlushCreateFailureQueuesReplay(t *testing.T) {
	uploader := &fakeUploader{createErr: errTest("remote unreachable")}
	f := newScreenshotFixture(t, uploader)

	f.manager.HandleFlush(context.Background(), types.FlushBundle{
		TimerID:  "timer-1",
		EventIDs: []string{"w-1"},
	})
	f.queue.Close()

	reqs, err := f.dao.ListFailedRequests()
	if err != nil {
		t.Fatalf("list failed requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Kind != "create-time-slot" {
		t.Fatalf("expected the bundle queued for replay, got %+v", reqs)
	}
}

func TestHandleFlushPromotesCoveredEvents(t *testing.T) {
	uploader := &fakeUploader{timeSlotID: "slot-1"}
	f := newScreenshotFixture(t, uploader)

	now := time.Now()
	if err := f.dao.CreateTimer(&types.Timer{ID: "timer-1", StartedAt: now, IsRunning: true}); err != nil {
		t.Fatalf("seed timer: %v", err)
	}
	err := f.dao.UpsertWindowEvent(&types.WindowEvent{
		EventID: "w-1", TimerID: "timer-1", Type: "APP", Duration: 10, RecordedAt: now,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	f.manager.HandleFlush(context.Background(), types.FlushBundle{
		TimerID:  "timer-1",
		EventIDs: []string{"w-1"},
	})
	f.queue.Close()

	// The covered event was marked synced and then removed.
	events, err := f.dao.WindowEventsSince("timer-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("promoted events must leave the local store, got %+v", events)
	}

	timer, err := f.dao.GetTimer("timer-1")
	if err != nil {
		t.Fatalf("load timer: %v", err)
	}
	if timer.TimeSlotID == nil || *timer.TimeSlotID != "slot-1" || !timer.Synced {
		t.Fatalf("expected timer linked to the new time slot, got %+v", timer)
	}
	if uploader.createdCount != 1 {
		t.Fatalf("expected one remote time slot, created %d", uploader.createdCount)
	}
}

func TestCombineSingleImagePassthrough(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if got := combine([]*image.RGBA{img}); got != img {
		t.Fatal("a single display must not be copied")
	}
}

func TestCombineLaysDisplaysSideBySide(t *testing.T) {
	left := image.NewRGBA(image.Rect(0, 0, 4, 4))
	right := image.NewRGBA(image.Rect(0, 0, 6, 8))
	got := combine([]*image.RGBA{left, right})
	if got.Bounds().Dx() != 10 || got.Bounds().Dy() != 8 {
		t.Fatalf("expected a 10x8 combined image, got %v", got.Bounds())
	}
}

func TestShrinkKeepsSmallImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	if got := shrink(img, thumbnailWidth); got.Bounds().Dx() != 100 {
		t.Fatalf("images under the target width must not be scaled, got %v", got.Bounds())
	}
}

func TestShrinkScalesProportionally(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	got := shrink(img, thumbnailWidth)
	if got.Bounds().Dx() != thumbnailWidth {
		t.Fatalf("expected width %d, got %d", thumbnailWidth, got.Bounds().Dx())
	}
	if got.Bounds().Dy() != 240 {
		t.Fatalf("expected proportional height 240, got %d", got.Bounds().Dy())
	}
}
