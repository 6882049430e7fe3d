package core

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/worktrack/agent/internal/types"
)

// EventDAO provides typed access to the event tables. Every insert keyed by
// event_id is an upsert: replaying the same event after a crash or a retried
// job merges duration and data into the existing row instead of duplicating
// it. That merge is the offline-safety idempotency key and must not change.
type EventDAO struct {
	provider *Provider
}

func NewEventDAO(provider *Provider) *EventDAO {
	return &EventDAO{provider: provider}
}

// eventConflict is the shared merge-on-conflict clause for all event tables.
var eventConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "event_id"}},
	DoUpdates: clause.AssignmentColumns([]string{"duration", "data", "type", "updated_at"}),
}

func (d *EventDAO) UpsertWindowEvent(event *types.WindowEvent) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Clauses(eventConflict).Create(event).Error; err != nil {
		return fmt.Errorf("failed to upsert window event %s: %w", event.EventID, err)
	}
	return nil
}

func (d *EventDAO) UpsertAFKEvent(event *types.AFKEvent) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Clauses(eventConflict).Create(event).Error; err != nil {
		return fmt.Errorf("failed to upsert afk event %s: %w", event.EventID, err)
	}
	return nil
}

// UpsertBrowserEvent routes the event to the chrome or firefox table.
func (d *EventDAO) UpsertBrowserEvent(kind types.BrowserKind, event *types.ChromeEvent) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	switch kind {
	case types.BrowserChrome:
		if err := db.Clauses(eventConflict).Create(event).Error; err != nil {
			return fmt.Errorf("failed to upsert chrome event %s: %w", event.EventID, err)
		}
	case types.BrowserFirefox:
		ff := types.FirefoxEvent(*event)
		ff.ID = 0
		if err := db.Clauses(eventConflict).Create(&ff).Error; err != nil {
			return fmt.Errorf("failed to upsert firefox event %s: %w", event.EventID, err)
		}
	default:
		return fmt.Errorf("unknown browser kind %q", kind)
	}
	return nil
}

// WindowEventsSince returns the window stream for a timer from `since` on,
// oldest first.
func (d *EventDAO) WindowEventsSince(timerID string, since time.Time) ([]types.WindowEvent, error) {
	db, err := d.provider.DB()
	if err != nil {
		return nil, err
	}
	var events []types.WindowEvent
	err = db.Where("timer_id = ? AND recorded_at >= ? AND time_slot_id IS NULL", timerID, since).
		Order("recorded_at ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load window events: %w", err)
	}
	return events, nil
}

func (d *EventDAO) AFKEventsSince(timerID string, since time.Time) ([]types.AFKEvent, error) {
	db, err := d.provider.DB()
	if err != nil {
		return nil, err
	}
	var events []types.AFKEvent
	err = db.Where("timer_id = ? AND recorded_at >= ? AND time_slot_id IS NULL", timerID, since).
		Order("recorded_at ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load afk events: %w", err)
	}
	return events, nil
}

// BrowserEventsSince merges both browser tables into one stream, oldest first.
func (d *EventDAO) BrowserEventsSince(timerID string, since time.Time) ([]types.ChromeEvent, error) {
	db, err := d.provider.DB()
	if err != nil {
		return nil, err
	}
	var chrome []types.ChromeEvent
	err = db.Where("timer_id = ? AND recorded_at >= ? AND time_slot_id IS NULL", timerID, since).
		Order("recorded_at ASC").Find(&chrome).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chrome events: %w", err)
	}
	var firefox []types.FirefoxEvent
	err = db.Where("timer_id = ? AND recorded_at >= ? AND time_slot_id IS NULL", timerID, since).
		Order("recorded_at ASC").Find(&firefox).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load firefox events: %w", err)
	}
	for _, ff := range firefox {
		chrome = append(chrome, types.ChromeEvent(ff))
	}
	return chrome, nil
}

// MarkSynced stamps events with the remote time slot they were promoted
// into. A populated time_slot_id is what makes the remote copy authoritative.
func (d *EventDAO) MarkSynced(eventIDs []string, timeSlotID string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	for _, model := range []interface{}{
		&types.WindowEvent{}, &types.AFKEvent{}, &types.ChromeEvent{}, &types.FirefoxEvent{},
	} {
		err := db.Model(model).Where("event_id IN ?", eventIDs).
			Update("time_slot_id", timeSlotID).Error
		if err != nil {
			return fmt.Errorf("failed to mark events synced: %w", err)
		}
	}
	return nil
}

// RemoveSynced deletes events already attributed to a time slot for a timer.
func (d *EventDAO) RemoveSynced(timerID string) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	for _, model := range []interface{}{
		&types.WindowEvent{}, &types.AFKEvent{}, &types.ChromeEvent{}, &types.FirefoxEvent{},
	} {
		err := db.Where("timer_id = ? AND time_slot_id IS NOT NULL", timerID).
			Delete(model).Error
		if err != nil {
			return fmt.Errorf("failed to remove synced events: %w", err)
		}
	}
	return nil
}

func (d *EventDAO) CreateTimer(timer *types.Timer) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Create(timer).Error; err != nil {
		return fmt.Errorf("failed to create timer: %w", err)
	}
	return nil
}

func (d *EventDAO) GetTimer(id string) (*types.Timer, error) {
	db, err := d.provider.DB()
	if err != nil {
		return nil, err
	}
	var timer types.Timer
	if err := db.First(&timer, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load timer %s: %w", id, err)
	}
	return &timer, nil
}

func (d *EventDAO) UpdateTimerDuration(id string, duration int64) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Model(&types.Timer{}).Where("id = ?", id).Update("duration", duration).Error; err != nil {
		return fmt.Errorf("failed to update timer duration: %w", err)
	}
	return nil
}

// LinkTimerTimeSlot connects a local timer to the remote time slot created
// for it.
func (d *EventDAO) LinkTimerTimeSlot(id, timeSlotID string) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"time_slot_id": timeSlotID, "synced": true}
	if err := db.Model(&types.Timer{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to link timer to time slot: %w", err)
	}
	return nil
}

// SetTimerTimeLog records the remote time log created for a run.
func (d *EventDAO) SetTimerTimeLog(id, timeLogID string) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Model(&types.Timer{}).Where("id = ?", id).Update("time_log_id", timeLogID).Error; err != nil {
		return fmt.Errorf("failed to set timer time log: %w", err)
	}
	return nil
}

func (d *EventDAO) StopTimer(id string, stoppedAt time.Time) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"is_running": false, "stopped_at": stoppedAt}
	if err := db.Model(&types.Timer{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to stop timer: %w", err)
	}
	return nil
}

func (d *EventDAO) SaveFailedRequest(req *types.FailedRequest) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Create(req).Error; err != nil {
		return fmt.Errorf("failed to save failed request: %w", err)
	}
	return nil
}

func (d *EventDAO) ListFailedRequests() ([]types.FailedRequest, error) {
	db, err := d.provider.DB()
	if err != nil {
		return nil, err
	}
	var reqs []types.FailedRequest
	if err := db.Order("created_at ASC").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed requests: %w", err)
	}
	return reqs, nil
}

func (d *EventDAO) DeleteFailedRequest(id uint) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	if err := db.Delete(&types.FailedRequest{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete failed request %d: %w", id, err)
	}
	return nil
}

// OpenOfflineWindow records the start of an outage.
func (d *EventDAO) OpenOfflineWindow(startedAt time.Time) (*types.OfflineWindow, error) {
	db, err := d.provider.DB()
	if err != nil {
		return nil, err
	}
	window := &types.OfflineWindow{StartedAt: startedAt}
	if err := db.Create(window).Error; err != nil {
		return nil, fmt.Errorf("failed to open offline window: %w", err)
	}
	return window, nil
}

// CloseOfflineWindow stamps the end of an outage.
func (d *EventDAO) CloseOfflineWindow(id uint, stoppedAt time.Time) error {
	db, err := d.provider.DB()
	if err != nil {
		return err
	}
	err = db.Model(&types.OfflineWindow{}).Where("id = ?", id).
		Update("stopped_at", stoppedAt).Error
	if err != nil {
		return fmt.Errorf("failed to close offline window %d: %w", id, err)
	}
	return nil
}
