package types

import (
	"encoding/json"
	"time"
)

// EventType classifies an observed activity record.
type EventType string

const (
	EventTypeApp EventType = "APP"
	EventTypeURL EventType = "URL"
	EventTypeAFK EventType = "AFK"
)

// AppData is the opaque payload attached to an activity event: the
// foreground application, its window title, and (for browsers) the URL.
type AppData struct {
	App            string `json:"app"`
	Title          string `json:"title"`
	URL            string `json:"url,omitempty"`
	ExecutablePath string `json:"executablePath,omitempty"`
}

// Same reports whether two observations describe the same foreground state.
func (a AppData) Same(b AppData) bool {
	return a.ExecutablePath == b.ExecutablePath && a.Title == b.Title && a.URL == b.URL
}

// Encode serializes the payload for the event `data` column.
func (a AppData) Encode() string {
	raw, err := json.Marshal(a)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// DecodeAppData parses a stored `data` column back into AppData.
func DecodeAppData(raw string) AppData {
	var a AppData
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &a)
	}
	return a
}

// WindowEvent is a foreground-window observation persisted to window_events.
// EventID is the source correlation key: re-observing the same EventID merges
// duration and data instead of inserting a second row.
type WindowEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"column:event_id;uniqueIndex;not null" json:"eventId"`
	TimerID    string    `gorm:"column:timer_id;index" json:"timerId"`
	Type       string    `gorm:"not null;default:APP" json:"type"`
	Duration   int64     `gorm:"not null;default:0" json:"duration"`
	Data       string    `json:"data"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
	TimeSlotID *string   `gorm:"column:time_slot_id;index" json:"timeSlotId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WindowEvent) TableName() string { return "window_events" }

// AFKEvent is an away-from-keyboard span persisted to afk_events.
type AFKEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"column:event_id;uniqueIndex;not null" json:"eventId"`
	TimerID    string    `gorm:"column:timer_id;index" json:"timerId"`
	Type       string    `gorm:"not null;default:AFK" json:"type"`
	Duration   int64     `gorm:"not null;default:0" json:"duration"`
	Data       string    `json:"data"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
	TimeSlotID *string   `gorm:"column:time_slot_id;index" json:"timeSlotId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AFKEvent) TableName() string { return "afk_events" }

// BrowserKind routes a browser event to its per-browser table.
type BrowserKind string

const (
	BrowserChrome  BrowserKind = "chrome"
	BrowserFirefox BrowserKind = "firefox"
)

// ChromeEvent is a browser-tab observation from the Chrome extension bridge.
type ChromeEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"column:event_id;uniqueIndex;not null" json:"eventId"`
	TimerID    string    `gorm:"column:timer_id;index" json:"timerId"`
	Type       string    `gorm:"not null;default:URL" json:"type"`
	Duration   int64     `gorm:"not null;default:0" json:"duration"`
	Data       string    `json:"data"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
	TimeSlotID *string   `gorm:"column:time_slot_id;index" json:"timeSlotId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChromeEvent) TableName() string { return "chrome_events" }

// FirefoxEvent is a browser-tab observation from the Firefox extension bridge.
type FirefoxEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"column:event_id;uniqueIndex;not null" json:"eventId"`
	TimerID    string    `gorm:"column:timer_id;index" json:"timerId"`
	Type       string    `gorm:"not null;default:URL" json:"type"`
	Duration   int64     `gorm:"not null;default:0" json:"duration"`
	Data       string    `json:"data"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
	TimeSlotID *string   `gorm:"column:time_slot_id;index" json:"timeSlotId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FirefoxEvent) TableName() string { return "firefox_events" }

// Timer is one tracking run. TimeLogID stays nil until the remote time log
// has been created, which is how offline starts are reconciled later.
type Timer struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	EmployeeID string     `gorm:"index" json:"employeeId"`
	ProjectID  string     `json:"projectId"`
	TaskID     string     `json:"taskId"`
	TimeLogID  *string    `gorm:"column:time_log_id" json:"timeLogId"`
	TimeSlotID *string    `gorm:"column:time_slot_id" json:"timeSlotId"`
	StartedAt  time.Time  `json:"startedAt"`
	StoppedAt  *time.Time `json:"stoppedAt"`
	Duration   int64      `gorm:"not null;default:0" json:"duration"`
	IsRunning  bool       `gorm:"not null;default:false" json:"isRunning"`
	Synced     bool       `gorm:"not null;default:false" json:"synced"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Timer) TableName() string { return "timers" }

// FailedRequest records an operation that could not be completed even after
// retries. Rows are kept for replay once connectivity returns; they are never
// silently dropped.
type FailedRequest struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"not null;index" json:"kind"`
	Payload   string    `json:"payload"`
	Message   string    `json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (FailedRequest) TableName() string { return "failed_request" }

// Setting is one key/value document in the local settings store.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// OfflineWindow brackets a detected connectivity outage. StoppedAt is nil
// while the outage is still open.
type OfflineWindow struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	StartedAt time.Time  `gorm:"not null" json:"startedAt"`
	StoppedAt *time.Time `json:"stoppedAt"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (OfflineWindow) TableName() string { return "offline_windows" }

// Activity is a merged, labeled activity record produced at a flush boundary.
type Activity struct {
	EventID    string    `json:"eventId"`
	Type       EventType `json:"type"`
	App        string    `json:"app"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Duration   int64     `json:"duration"`
	RecordedAt time.Time `json:"recordedAt"`
}

// FlushBundle is handed to the screenshot/upload collaborator at each flush
// boundary: everything needed to finalize one time slot remotely.
type FlushBundle struct {
	TimerID            string     `json:"timerId"`
	TimeLogID          *string    `json:"timeLogId"`
	StartedAt          time.Time  `json:"startedAt"`
	StoppedAt          time.Time  `json:"stoppedAt"`
	Activities         []Activity `json:"activities"`
	EventIDs           []string   `json:"idsToMarkSynced"`
	Duration           int64      `json:"duration"`
	DurationNonAFK     int64      `json:"durationNonAfk"`
	KeyboardPercentage int        `json:"keyboard"`
	MousePercentage    int        `json:"mouse"`
	SystemPercentage   int        `json:"system"`
}

// Auth is the `auth` settings document.
type Auth struct {
	Token          string `json:"token"`
	TenantID       string `json:"tenantId"`
	OrganizationID string `json:"organizationId"`
	EmployeeID     string `json:"employeeId"`
}

// Monitor capture modes for screenshots.
const (
	MonitorAll        = "all"
	MonitorActiveOnly = "active-only"
)

// AppSetting is the `appSetting` settings document.
type AppSetting struct {
	MonitorCaptured       string `json:"monitor.captured"`
	UpdatePeriodMinutes   int    `json:"timer.updatePeriod"`
	RandomScreenshotTime  bool   `json:"randomScreenshotTime"`
	TrackOnPcSleep        bool   `json:"trackOnPcSleep"`
	AWIsConnected         bool   `json:"awIsConnected"`
	TimerStarted          bool   `json:"timerStarted"`
	ScreenshotsEngine     string `json:"SCREENSHOTS_ENGINE_METHOD"`
	InactivityTimeLimit   int    `json:"inactivityTimeLimit"`   // minutes
	ActivityProofDuration int    `json:"activityProofDuration"` // minutes
}

// ProjectContext is the `project` settings document: the project/task the
// next tracking run is attributed to. References are opaque remote ids.
type ProjectContext struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
	Note      string `json:"note,omitempty"`
}

// ServerConfig is the `configs` settings document.
type ServerConfig struct {
	APIURL string `json:"apiUrl"`
}
