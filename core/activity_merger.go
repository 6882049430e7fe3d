package core

import (
	"strings"
	"time"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// browserProcesses maps foreground process names to the browser whose
// extension can provide richer tab metadata.
var browserProcesses = map[string]types.BrowserKind{
	"chrome.exe":    types.BrowserChrome,
	"chrome":        types.BrowserChrome,
	"google-chrome": types.BrowserChrome,
	"chromium":      types.BrowserChrome,
	"firefox.exe":   types.BrowserFirefox,
	"firefox":       types.BrowserFirefox,
	"firefox-esr":   types.BrowserFirefox,
}

// ActivityMerger joins the window, browser and AFK event streams for a timer
// into unified labeled activity records.
//
// Any error during a merge degrades to an empty result: a flush boundary
// must never be blocked by a merge bug, so availability wins over
// completeness of a single period. The failure is logged loudly instead.
type ActivityMerger struct {
	dao *EventDAO

	// now is a field so tests can pin the clock for tail backfill.
	now func() time.Time
}

func NewActivityMerger(dao *EventDAO) *ActivityMerger {
	return &ActivityMerger{dao: dao, now: time.Now}
}

// MergeResult is the merged view of one collection window.
type MergeResult struct {
	Activities    []types.Activity
	EventIDs      []string
	AFKDuration   int64 // seconds away from keyboard
	NoAFKDuration int64 // seconds demonstrably at keyboard
	TotalDuration int64 // seconds covered by window events
}

// Merge loads the three streams since `since` and joins them. On any error
// it returns an empty result and logs the cause.
func (m *ActivityMerger) Merge(timerID string, since time.Time) MergeResult {
	result, err := m.merge(timerID, since)
	if err != nil {
		logging.Errorf("activity merge failed for timer %s, flushing empty period: %v", timerID, err)
		return MergeResult{}
	}
	return result
}

func (m *ActivityMerger) merge(timerID string, since time.Time) (MergeResult, error) {
	windows, err := m.dao.WindowEventsSince(timerID, since)
	if err != nil {
		return MergeResult{}, err
	}
	browsers, err := m.dao.BrowserEventsSince(timerID, since)
	if err != nil {
		return MergeResult{}, err
	}
	afks, err := m.dao.AFKEventsSince(timerID, since)
	if err != nil {
		return MergeResult{}, err
	}

	// Backfill the open tail: the last window event has zero duration until
	// the next change, so charge it up to now.
	if n := len(windows); n > 0 && windows[n-1].Duration == 0 {
		windows[n-1].Duration = int64(m.now().Sub(windows[n-1].RecordedAt).Seconds())
		if windows[n-1].Duration < 0 {
			windows[n-1].Duration = 0
		}
	}

	var result MergeResult
	for _, w := range windows {
		data := types.DecodeAppData(w.Data)
		activity := types.Activity{
			EventID:    w.EventID,
			Type:       types.EventType(w.Type),
			App:        data.App,
			Title:      data.Title,
			URL:        data.URL,
			Duration:   w.Duration,
			RecordedAt: w.RecordedAt,
		}

		if _, isBrowser := browserProcesses[strings.ToLower(data.App)]; isBrowser {
			if overlay := matchBrowserEvent(browsers, w); overlay != nil {
				overlayData := types.DecodeAppData(overlay.Data)
				activity.Type = types.EventType(overlay.Type)
				activity.Title = overlayData.Title
				activity.URL = overlayData.URL
			}
		}

		result.Activities = append(result.Activities, activity)
		result.EventIDs = append(result.EventIDs, w.EventID)
		result.TotalDuration += w.Duration
	}

	for _, a := range afks {
		result.EventIDs = append(result.EventIDs, a.EventID)
		result.AFKDuration += a.Duration
	}
	result.NoAFKDuration = result.TotalDuration - result.AFKDuration
	if result.NoAFKDuration < 0 {
		result.NoAFKDuration = 0
	}
	return result, nil
}

// matchBrowserEvent finds the browser event enriching a window event: first
// an exact recordedAt match, otherwise the last browser event with nonzero
// duration whose title is a prefix of (or prefixed by) the window title.
func matchBrowserEvent(browsers []types.ChromeEvent, w types.WindowEvent) *types.ChromeEvent {
	for i := range browsers {
		if browsers[i].RecordedAt.Equal(w.RecordedAt) {
			return &browsers[i]
		}
	}

	windowData := types.DecodeAppData(w.Data)
	for i := len(browsers) - 1; i >= 0; i-- {
		if browsers[i].Duration == 0 {
			continue
		}
		browserData := types.DecodeAppData(browsers[i].Data)
		if titlePrefixMatch(windowData.Title, browserData.Title) {
			return &browsers[i]
		}
	}
	return nil
}

func titlePrefixMatch(windowTitle, browserTitle string) bool {
	if windowTitle == "" || browserTitle == "" {
		return false
	}
	return strings.HasPrefix(windowTitle, browserTitle) || strings.HasPrefix(browserTitle, windowTitle)
}

// Percentages computes the AFK-adjusted split of a collection window.
// Guarded against a zero total so it can never divide by zero.
func (r MergeResult) Percentages() (system, mouse, keyboard float64) {
	if r.TotalDuration == 0 {
		return 0, 0, 0
	}
	total := float64(r.TotalDuration)
	system = float64(r.TotalDuration-r.AFKDuration) / total
	mouse = float64(r.AFKDuration) / total
	keyboard = float64(r.NoAFKDuration) / total
	return system, mouse, keyboard
}
