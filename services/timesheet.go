package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/types"
)

// FailedRequestStore is the slice of the local store the replay path needs.
type FailedRequestStore interface {
	ListFailedRequests() ([]types.FailedRequest, error)
	DeleteFailedRequest(id uint) error
}

// TimesheetService talks to the remote time-tracking API: time logs, time
// slots and screenshot uploads. It implements core.TimeSlotUploader.
type TimesheetService struct {
	api    *ApiClient
	tokens TokenSource
}

func NewTimesheetService(api *ApiClient, tokens TokenSource) *TimesheetService {
	return &TimesheetService{api: api, tokens: tokens}
}

// StartTimeLog creates the remote time log for a tracking run and returns
// its id. Called once per run; a failure leaves Timer.TimeLogID nil for
// later reconciliation.
func (s *TimesheetService) StartTimeLog(ctx context.Context, timer *types.Timer) (string, error) {
	auth, err := s.tokens.Auth()
	if err != nil {
		return "", err
	}
	payload := map[string]interface{}{
		"employeeId":     auth.EmployeeID,
		"tenantId":       auth.TenantID,
		"organizationId": auth.OrganizationID,
		"projectId":      timer.ProjectID,
		"taskId":         timer.TaskID,
		"startedAt":      timer.StartedAt.UTC().Format(time.RFC3339),
	}
	response, err := s.api.CallAPI(ctx, "/api/timesheet/time-log", http.MethodPost, payload)
	if err != nil {
		return "", fmt.Errorf("failed to start time log: %w", err)
	}
	id, _ := response["id"].(string)
	return id, nil
}

// StopTimeLog closes the remote time log.
func (s *TimesheetService) StopTimeLog(ctx context.Context, timeLogID string, stoppedAt time.Time) error {
	payload := map[string]interface{}{
		"stoppedAt": stoppedAt.UTC().Format(time.RFC3339),
	}
	_, err := s.api.CallAPI(ctx, "/api/timesheet/time-log/"+timeLogID+"/stop", http.MethodPost, payload)
	if err != nil {
		return fmt.Errorf("failed to stop time log: %w", err)
	}
	return nil
}

// CreateTimeSlot finalizes one flush period remotely and returns the new
// time slot id. Implements core.TimeSlotUploader.
func (s *TimesheetService) CreateTimeSlot(ctx context.Context, bundle types.FlushBundle) (string, error) {
	auth, err := s.tokens.Auth()
	if err != nil {
		return "", err
	}
	payload := map[string]interface{}{
		"tenantId":       auth.TenantID,
		"organizationId": auth.OrganizationID,
		"employeeId":     auth.EmployeeID,
		"timeLogId":      bundle.TimeLogID,
		"startedAt":      bundle.StartedAt.UTC().Format(time.RFC3339),
		"stoppedAt":      bundle.StoppedAt.UTC().Format(time.RFC3339),
		"duration":       bundle.Duration,
		"durationNonAfk": bundle.DurationNonAFK,
		"keyboard":       bundle.KeyboardPercentage,
		"mouse":          bundle.MousePercentage,
		"overall":        bundle.SystemPercentage,
		"activities":     bundle.Activities,
	}
	response, err := s.api.CallAPI(ctx, "/api/timesheet/time-slot", http.MethodPost, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create time slot: %w", err)
	}
	id, ok := response["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("time slot response missing id")
	}
	return id, nil
}

// UploadScreenshot attaches the captured screenshot and thumbnail to a time
// slot. Implements core.TimeSlotUploader.
func (s *TimesheetService) UploadScreenshot(ctx context.Context, timeSlotID string, full, thumb []byte) error {
	auth, err := s.tokens.Auth()
	if err != nil {
		return err
	}
	files := []FilePart{
		{Field: "file", FileName: "screenshot.png", Data: full},
		{Field: "thumb", FileName: "thumb.png", Data: thumb},
	}
	fields := map[string]string{
		"timeSlotId":     timeSlotID,
		"tenantId":       auth.TenantID,
		"organizationId": auth.OrganizationID,
	}
	_, err = s.api.UploadFiles(ctx, "/timesheet/screenshot", files, fields)
	if err != nil {
		return fmt.Errorf("failed to upload screenshot: %w", err)
	}
	return nil
}

// ReplayFailed re-submits everything recorded as a FailedRequest, deleting
// each row on success. Called when the offline handler reports restored
// connectivity; rows that fail again simply stay for the next pass.
func (s *TimesheetService) ReplayFailed(ctx context.Context, store FailedRequestStore) {
	requests, err := store.ListFailedRequests()
	if err != nil {
		logging.Errorf("failed to list queued requests for replay: %v", err)
		return
	}
	if len(requests) == 0 {
		return
	}
	logging.Infof("replaying %d queued request(s)", len(requests))

	for _, req := range requests {
		if err := s.replayOne(ctx, req); err != nil {
			logging.Warnf("replay of %s request %d failed, keeping for next pass: %v", req.Kind, req.ID, err)
			continue
		}
		if err := store.DeleteFailedRequest(req.ID); err != nil {
			logging.Errorf("failed to delete replayed request %d: %v", req.ID, err)
		}
	}
}

func (s *TimesheetService) replayOne(ctx context.Context, req types.FailedRequest) error {
	switch req.Kind {
	case "create-time-slot":
		var bundle types.FlushBundle
		if err := json.Unmarshal([]byte(req.Payload), &bundle); err != nil {
			return fmt.Errorf("unreadable payload: %w", err)
		}
		_, err := s.CreateTimeSlot(ctx, bundle)
		return err
	default:
		// Unknown or screenshot kinds are re-posted as raw payloads; the
		// remote treats repeated event ids as merges, so this is safe.
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(req.Payload), &payload); err != nil {
			return fmt.Errorf("unreadable payload: %w", err)
		}
		_, err := s.api.CallAPI(ctx, "/api/timesheet/replay", http.MethodPost, map[string]interface{}{
			"kind":    req.Kind,
			"payload": payload,
		})
		return err
	}
}
