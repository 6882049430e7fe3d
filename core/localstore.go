package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/worktrack/agent/internal/types"
)

// Settings document keys.
const (
	SettingAuth    = "auth"
	SettingApp     = "appSetting"
	SettingConfigs = "configs"
	SettingProject = "project"
)

// LocalStore is the durable key/value settings store. Values are JSON
// documents; reads are served from an in-memory cache that is invalidated on
// every write. The store is single-writer by construction (last write wins).
type LocalStore struct {
	provider *Provider

	mu    sync.RWMutex
	cache map[string]string
}

func NewLocalStore(provider *Provider) *LocalStore {
	return &LocalStore{
		provider: provider,
		cache:    make(map[string]string),
	}
}

// Get returns the raw JSON document for key, or "" when unset.
func (s *LocalStore) Get(key string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	db, err := s.provider.DB()
	if err != nil {
		return "", err
	}
	var setting types.Setting
	err = db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %q: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = setting.Value
	s.mu.Unlock()
	return setting.Value, nil
}

// Set writes the raw JSON document for key and refreshes the cache.
func (s *LocalStore) Set(key, value string) error {
	db, err := s.provider.DB()
	if err != nil {
		return err
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&types.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

func getDoc[T any](s *LocalStore, key string) (T, error) {
	var doc T
	raw, err := s.Get(key)
	if err != nil || raw == "" {
		return doc, err
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return doc, fmt.Errorf("failed to parse setting %q: %w", key, err)
	}
	return doc, nil
}

func setDoc[T any](s *LocalStore, key string, doc T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %q: %w", key, err)
	}
	return s.Set(key, string(raw))
}

// Auth returns the stored credentials document (zero value when unset).
func (s *LocalStore) Auth() (types.Auth, error) {
	return getDoc[types.Auth](s, SettingAuth)
}

func (s *LocalStore) SetAuth(auth types.Auth) error {
	return setDoc(s, SettingAuth, auth)
}

// ClearAuth drops the stored token, e.g. after the remote API rejects it.
func (s *LocalStore) ClearAuth() error {
	return setDoc(s, SettingAuth, types.Auth{})
}

// AppSetting returns the application settings document with defaults filled
// in for unset fields.
func (s *LocalStore) AppSetting() (types.AppSetting, error) {
	app, err := getDoc[types.AppSetting](s, SettingApp)
	if err != nil {
		return app, err
	}
	if app.MonitorCaptured == "" {
		app.MonitorCaptured = types.MonitorAll
	}
	if app.UpdatePeriodMinutes == 0 {
		app.UpdatePeriodMinutes = 10
	}
	if app.InactivityTimeLimit == 0 {
		app.InactivityTimeLimit = 10
	}
	if app.ActivityProofDuration == 0 {
		app.ActivityProofDuration = 1
	}
	return app, nil
}

func (s *LocalStore) SetAppSetting(app types.AppSetting) error {
	return setDoc(s, SettingApp, app)
}

// SetTimerStarted records whether a tracking run is currently active. The
// power manager consults this before pausing or resuming.
func (s *LocalStore) SetTimerStarted(started bool) error {
	app, err := s.AppSetting()
	if err != nil {
		return err
	}
	app.TimerStarted = started
	return s.SetAppSetting(app)
}

// ProjectContext returns the project/task the next run is attributed to.
func (s *LocalStore) ProjectContext() (types.ProjectContext, error) {
	return getDoc[types.ProjectContext](s, SettingProject)
}

func (s *LocalStore) SetProjectContext(project types.ProjectContext) error {
	return setDoc(s, SettingProject, project)
}

// ServerConfig returns the remote connection document.
func (s *LocalStore) ServerConfig() (types.ServerConfig, error) {
	return getDoc[types.ServerConfig](s, SettingConfigs)
}

func (s *LocalStore) SetServerConfig(cfg types.ServerConfig) error {
	return setDoc(s, SettingConfigs, cfg)
}
