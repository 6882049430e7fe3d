package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/worktrack/agent/core"
	"github.com/worktrack/agent/internal/config"
	"github.com/worktrack/agent/internal/logging"
	"github.com/worktrack/agent/internal/platform"
	"github.com/worktrack/agent/internal/types"
	"github.com/worktrack/agent/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	logging.Configure(cfg.Debug, cfg.Verbose)

	dsn := cfg.DSN
	if cfg.Dialect == "sqlite" {
		dsn = cfg.DatabasePath()
	}
	provider := core.NewProvider(cfg.Dialect, dsn)
	defer provider.Close()

	store := core.NewLocalStore(provider)
	dao := core.NewEventDAO(provider)
	queue := core.NewJobQueue(dao)

	apiURL := cfg.APIURL
	if server, err := store.ServerConfig(); err == nil && server.APIURL != "" {
		apiURL = server.APIURL
	}
	api := services.NewApiClient(apiURL, store)
	timesheet := services.NewTimesheetService(api, store)

	notifier := core.NewLogNotifier()
	sampler := platform.NewDBusSampler()
	defer sampler.Close()

	counter := core.NewEventCounter(sampler)
	input := core.NewInputMonitor(counter)
	poller := core.NewActivePollerWindow(sampler, cfg.CollectInterval)
	merger := core.NewActivityMerger(dao)
	screenshots := core.NewScreenshotManager(timesheet, store, dao, queue, notifier, cfg.ScreenshotDir())

	orchestrator := core.NewTimerOrchestrator(
		store, dao, queue, poller, counter, input, merger, screenshots, notifier, sampler,
	)

	app, err := store.AppSetting()
	if err != nil {
		logging.Errorf("failed to read app settings: %v", err)
		os.Exit(1)
	}

	strategy := core.NewSleepStrategy(core.SleepStrategyControlled, store, orchestrator, notifier)
	powerManager := core.NewPowerManager(store, strategy)
	if signals, err := sampler.SubscribePower(); err != nil {
		// No session bus (headless, CI): tracking continues without
		// suspend/lock handling.
		logging.Warnf("power signals unavailable: %v", err)
	} else {
		powerManager.Watch(signals)
	}

	inactivity := core.NewInactivityDetector(
		sampler, notifier, orchestrator,
		time.Duration(app.InactivityTimeLimit)*time.Minute,
		time.Duration(app.ActivityProofDuration)*time.Minute,
	)

	offline := core.NewOfflineModeHandler(api, dao, notifier, cfg.ProbeInterval)
	offline.OnRestored(func(window types.OfflineWindow) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		timesheet.ReplayFailed(ctx, dao)
		if timer := orchestrator.Timer(); timer != nil {
			if err := queue.Enqueue(core.JobRemoveSyncedEvents, core.RemoveSyncedEventsPayload{TimerID: timer.ID}); err != nil {
				logging.Errorf("failed to queue synced event cleanup: %v", err)
			}
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orchestrator.Start(ctx, core.SessionContext{}); err != nil {
		logging.Errorf("failed to start tracking: %v", err)
		os.Exit(1)
	}
	if timer := orchestrator.Timer(); timer != nil {
		// Best effort: when offline the time log stays unlinked and is
		// reconciled by the replay path later.
		if timeLogID, err := timesheet.StartTimeLog(ctx, timer); err != nil {
			logging.Warnf("failed to create remote time log: %v", err)
		} else if timeLogID != "" {
			orchestrator.SetTimeLog(timeLogID)
			if err := dao.SetTimerTimeLog(timer.ID, timeLogID); err != nil {
				logging.Errorf("failed to persist time log link: %v", err)
			}
		}
	}

	inactivity.StartInactivityDetection()
	offline.Start(ctx)

	logging.Infof("agent running, press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	inactivity.Stop()
	offline.Stop()
	powerManager.Stop()
	orchestrator.Stop(shutdownCtx)
	queue.Close()
	logging.Infof("agent stopped")
}
