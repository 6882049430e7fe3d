package core

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// FlushSink receives the finalized bundle at each flush boundary. The
// orchestrator does not care what happens next; the default sink captures a
// screenshot and uploads everything as one remote time slot.
type FlushSink interface {
	HandleFlush(ctx context.Context, bundle types.FlushBundle)
}

// TimeSlotUploader is the narrow remote surface the screenshot manager
// needs. services.TimesheetService implements it.
type TimeSlotUploader interface {
	CreateTimeSlot(ctx context.Context, bundle types.FlushBundle) (timeSlotID string, err error)
	UploadScreenshot(ctx context.Context, timeSlotID string, full, thumb []byte) error
}

const thumbnailWidth = 320

// ScreenshotManager finalizes a flush: create the remote time slot, capture
// and upload a screenshot, then mark the covered events synced locally.
//
// Remote failures are never retried inline. The bundle is queued as a
// FailedRequest and replayed when the offline handler reports restored
// connectivity. Capture failures degrade to an upload without a screenshot;
// a denied screen-capture permission must not stop time tracking.
type ScreenshotManager struct {
	uploader TimeSlotUploader
	store    *LocalStore
	dao      *EventDAO
	queue    *JobQueue
	notifier Notifier

	stagingDir string
}

func NewScreenshotManager(uploader TimeSlotUploader, store *LocalStore, dao *EventDAO, queue *JobQueue, notifier Notifier, stagingDir string) *ScreenshotManager {
	if stagingDir != "" {
		if err := os.MkdirAll(stagingDir, 0700); err != nil {
			logging.Warnf("failed to create screenshot staging dir %s: %v", stagingDir, err)
		}
	}
	return &ScreenshotManager{
		uploader:   uploader,
		store:      store,
		dao:        dao,
		queue:      queue,
		notifier:   notifier,
		stagingDir: stagingDir,
	}
}

// HandleFlush implements FlushSink.
func (sm *ScreenshotManager) HandleFlush(ctx context.Context, bundle types.FlushBundle) {
	timeSlotID, err := sm.uploader.CreateTimeSlot(ctx, bundle)
	if err != nil {
		logging.Errorf("failed to create remote time slot: %v", err)
		sm.queueFailed("create-time-slot", bundle, err)
		return
	}

	full, thumb, captureErr := sm.capture()
	if captureErr != nil {
		// Degraded mode: the time slot exists, screenshots do not.
		logging.Warnf("screenshot capture unavailable: %v", captureErr)
	} else {
		if err := sm.uploader.UploadScreenshot(ctx, timeSlotID, full, thumb); err != nil {
			logging.Errorf("failed to upload screenshot: %v", err)
			sm.stageLocally(timeSlotID, full)
			sm.queueFailed("upload-screenshot", map[string]interface{}{
				"timeSlotId": timeSlotID,
				"timerId":    bundle.TimerID,
			}, err)
		} else {
			sm.notifier.ScreenshotCaptured(timeSlotID)
		}
	}

	if err := sm.dao.MarkSynced(bundle.EventIDs, timeSlotID); err != nil {
		logging.Errorf("failed to mark events synced: %v", err)
	}
	if err := sm.queue.Enqueue(JobLinkTimeSlot, LinkTimeSlotPayload{
		TimerID:    bundle.TimerID,
		TimeSlotID: timeSlotID,
	}); err != nil {
		logging.Errorf("failed to queue time slot link: %v", err)
	}
	if err := sm.queue.Enqueue(JobRemoveSyncedEvents, RemoveSyncedEventsPayload{
		TimerID: bundle.TimerID,
	}); err != nil {
		logging.Errorf("failed to queue synced event removal: %v", err)
	}
}

func (sm *ScreenshotManager) queueFailed(kind string, payload interface{}, cause error) {
	err := sm.queue.Enqueue(JobSaveFailedRequest, SaveFailedRequestPayload{
		Kind:    kind,
		Payload: payload,
		Message: cause.Error(),
	})
	if err != nil {
		logging.Errorf("failed to queue failed request: %v", err)
	}
}

// capture grabs the configured displays and returns PNG bytes for the full
// image and its thumbnail.
func (sm *ScreenshotManager) capture() (full, thumb []byte, err error) {
	displays := screenshot.NumActiveDisplays()
	if displays == 0 {
		return nil, nil, fmt.Errorf("no active displays")
	}

	mode := types.MonitorAll
	if app, err := sm.store.AppSetting(); err == nil && app.MonitorCaptured != "" {
		mode = app.MonitorCaptured
	}
	if mode == types.MonitorActiveOnly {
		displays = 1
	}

	var imgs []*image.RGBA
	for i := 0; i < displays; i++ {
		img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(i))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to capture display %d: %w", i, err)
		}
		imgs = append(imgs, img)
	}

	combined := combine(imgs)
	fullBuf := &bytes.Buffer{}
	if err := png.Encode(fullBuf, combined); err != nil {
		return nil, nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	thumbBuf := &bytes.Buffer{}
	if err := png.Encode(thumbBuf, shrink(combined, thumbnailWidth)); err != nil {
		return nil, nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return fullBuf.Bytes(), thumbBuf.Bytes(), nil
}

// stageLocally keeps a copy of an unuploaded screenshot so the replay path
// has something to re-send.
func (sm *ScreenshotManager) stageLocally(timeSlotID string, data []byte) {
	if sm.stagingDir == "" || data == nil {
		return
	}
	name := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405"), timeSlotID)
	path := filepath.Join(sm.stagingDir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		logging.Warnf("failed to stage screenshot %s: %v", path, err)
	}
}

// combine lays multiple displays side by side into one image.
func combine(imgs []*image.RGBA) *image.RGBA {
	if len(imgs) == 1 {
		return imgs[0]
	}
	width, height := 0, 0
	for _, img := range imgs {
		width += img.Bounds().Dx()
		if h := img.Bounds().Dy(); h > height {
			height = h
		}
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	offset := 0
	for _, img := range imgs {
		b := img.Bounds()
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.Set(offset+x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		offset += b.Dx()
	}
	return out
}

// shrink is a nearest-neighbor downscale to the target width.
func shrink(img *image.RGBA, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width || b.Dx() == 0 {
		return img
	}
	ratio := float64(width) / float64(b.Dx())
	height := int(float64(b.Dy()) * ratio)
	if height < 1 {
		height = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			srcX := b.Min.X + int(float64(x)/ratio)
			srcY := b.Min.Y + int(float64(y)/ratio)
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}
