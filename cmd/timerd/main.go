// Package main - точка входа демона учебного таймера.
//
// Демон держит один движок сессии (focus / break) и отвечает за:
// - восстановление сессии из снимка после перезапуска
// - планирование локальных напоминаний
// - журнал завершённых сегментов
// - HTTP API и websocket-поток состояния для клиентов
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alem-hub/study-timer/config"
	"github.com/alem-hub/study-timer/internal/application/engine"
	"github.com/alem-hub/study-timer/internal/application/eventhandler"
	"github.com/alem-hub/study-timer/internal/application/lifecycle"
	domain "github.com/alem-hub/study-timer/internal/domain/notification"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/internal/infrastructure/external/telegram"
	"github.com/alem-hub/study-timer/internal/infrastructure/metrics"
	"github.com/alem-hub/study-timer/internal/infrastructure/notification"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/snapshot"
	"github.com/alem-hub/study-timer/internal/infrastructure/platform"
	"github.com/alem-hub/study-timer/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-timer/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/study-timer/internal/interface/http"
	"github.com/alem-hub/study-timer/internal/interface/http/handlers"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
	"github.com/alem-hub/study-timer/pkg/logger"
	"github.com/alem-hub/study-timer/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	slog.SetDefault(log)
	log.Info("starting study timer",
		"env", string(cfg.App.Environment),
		"instance", cfg.App.InstanceID,
		"storage", cfg.Storage.Backend,
		"history", cfg.Storage.History,
		"bus", cfg.Events.Bus,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА (снимок сессии и журнал)
	// ─────────────────────────────────────────────────────────────────────────
	stores, err := openBackends(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer stores.close(log)

	store := snapshot.NewStore(stores.kv,
		snapshot.WithKey(cfg.Storage.SnapshotKey),
		snapshot.WithLogger(log),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. УВЕДОМЛЕНИЯ И ПОТОК СОСТОЯНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}

	// Движок создаётся ниже; поток берёт снимок через замыкание.
	var eng *engine.Engine
	hub := httpapi.NewStreamHub(httpapi.StreamConfig{
		Snapshot:       func() timer.View { return eng.Snapshot() },
		Enabled:        cfg.Features.Flag(config.FeatureHTTPStream),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         log,
	})

	deliverers := []domain.Deliverer{notification.LogDeliverer(log), hub}
	if cfg.Notifications.TelegramEnabled() {
		tg := telegram.DefaultClientConfig(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
		tg.Logger = log
		deliverers = append(deliverers, telegram.NewClient(tg))
		log.Info("telegram reminders enabled", "chat_id", cfg.Notifications.TelegramChatID)
	}

	localPlatform := notification.NewLocalPlatform(clock,
		notification.FanOut(deliverers...),
		cfg.Notifications.Enabled && cfg.Notifications.PermissionGranted,
		log,
	)
	defer localPlatform.Close()

	notifier := notification.NewScheduler(ctx, localPlatform, clock, notification.SchedulerConfig{
		ProgressLead:    cfg.Timer.ProgressLead,
		ProgressEnabled: cfg.Notifications.Enabled,
		ProgressFlag:    cfg.Features.Flag(config.FeatureNotifyProgress),
		Logger:          log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS И ЖУРНАЛ ЗАНЯТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := openEventBus(cfg, stores.cache, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	historyHandler := eventhandler.NewSessionCompletedHandler(stores.history, nil, nil, log,
		eventhandler.SessionCompletedConfig{
			Timeout: eventhandler.DefaultSessionCompletedConfig().Timeout,
			Enabled: cfg.Features.Flag(config.FeatureHistoryRecord),
		})
	if err := bus.Subscribe(shared.EventSessionCompleted, historyHandler.Handle); err != nil {
		return fmt.Errorf("failed to subscribe history handler: %w", err)
	}

	collector := metrics.New()
	if err := bus.SubscribeAll(collector.HandleEvent); err != nil {
		return fmt.Errorf("failed to subscribe metrics collector: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ДВИЖОК ТАЙМЕРА И ВОССТАНОВЛЕНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	eng = engine.New(engine.Config{
		Durations: timer.Durations{
			Focus: cfg.Timer.FocusDuration,
			Break: cfg.Timer.BreakDuration,
		},
		Clock:       clock,
		Store:       store,
		Notifier:    notifier,
		Events:      bus,
		Logger:      log,
		ID:          cfg.App.InstanceID,
		MaxFailures: cfg.Timer.MaxFailures,
	})
	eng.Restore(ctx)

	collector.TrackTimer(eng.Snapshot)
	collector.TrackFailures(failureKinds, func(kind string) int64 {
		return eng.FailureCount(engine.FailureKind(kind))
	})
	collector.TrackBreaker(historyHandler.Breaker())
	if stores.storeBreaker != nil {
		collector.TrackBreaker(stores.storeBreaker)
	}

	restored := eng.Snapshot()
	log.Info("session restored",
		logger.State(restored.State.String()),
		logger.SessionType(restored.Type.String()),
		logger.Remaining(restored.RemainingSeconds),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. СИГНАЛЫ ЖИЗНЕННОГО ЦИКЛА (SIGUSR1 / SIGUSR2 и HTTP)
	// ─────────────────────────────────────────────────────────────────────────
	coordinator := lifecycle.NewCoordinator(eng, log)
	go coordinator.Run(ctx, platform.NewSignalSource(log).Start(ctx))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log})
	health := setupHealth(cfg, stores, historyHandler, eng, sched)

	var (
		server   *httpapi.Server
		serverCh <-chan error
	)
	if cfg.HTTP.Enabled {
		probe := platform.NewProcessProbe()
		server = httpapi.NewServer(httpConfig(cfg), httpapi.Dependencies{
			Timer:         eng,
			Lifecycle:     coordinator,
			History:       stores.history,
			Stream:        hub,
			Features:      cfg.Features,
			HealthChecker: health,
			Metrics: func() map[string]interface{} {
				m := map[string]interface{}{
					"scheduler": sched.Stats(),
					"notifications": map[string]interface{}{
						"pending":   notifier.Pending(),
						"armed":     localPlatform.Armed(),
						"delivered": localPlatform.Delivered(),
					},
				}
				if bm := bus.Metrics(); bm != nil {
					m["event_bus"] = bm.Snapshot()
				}
				if stores.db != nil {
					m["postgres"] = stores.db.Stats()
				}
				if stores.cache != nil {
					m["redis"] = stores.cache.Stats()
				}
				breakers := []circuitbreaker.Stats{historyHandler.Breaker().Stats()}
				if stores.storeBreaker != nil {
					breakers = append(breakers, stores.storeBreaker.Stats())
				}
				m["circuit_breakers"] = breakers
				m["process"] = probe.Sample(ctx)
				return m
			},
			Prometheus: collector.Handler(),
			Logger:     log,
		})

		if err := server.Listen(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}

		views, unsubscribe := eng.Subscribe(16)
		defer unsubscribe()
		go hub.Run(ctx, views)

		serverCh = server.Serve()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ПЛАНИРОВЩИК (тик движка и обслуживание)
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Register(jobs.NewTickJob(eng, log), scheduler.NewAlignedSchedule(cfg.Timer.TickInterval)); err != nil {
		return fmt.Errorf("failed to register tick job: %w", err)
	}
	if server != nil {
		sweep := jobs.NewHousekeepingJob("rate_limit_sweep", "Drops idle rate limiter buckets", server.SweepRateLimiter, log)
		if err := sched.Register(sweep, scheduler.NewIntervalSchedule(5*time.Minute)); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ОЖИДАНИЕ ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("study timer is running",
		"http", cfg.HTTP.Enabled,
		"addr", cfg.HTTP.Addr,
		"tick", cfg.Timer.TickInterval.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-serverCh:
		if ok && err != nil {
			runErr = fmt.Errorf("http server: %w", err)
			log.Error("http server failed", "error", err)
		}
	case <-ctx.Done():
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	// Последний чекпоинт перед выходом.
	eng.Background(shutdownCtx)

	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Warn("scheduler stop failed", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown failed", "error", err)
		}
	}
	hub.Close()
	cancel()

	log.Info("shutdown completed successfully")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// failureKinds - виды сбоев побочных эффектов, экспортируемые в Prometheus.
var failureKinds = []string{
	string(engine.FailurePersistence),
	string(engine.FailureNotification),
	string(engine.FailureCorruptSnapshot),
	string(engine.FailureEvent),
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	if strings.EqualFold(cfg.Observability.LogFormat, string(logger.FormatJSON)) || cfg.IsProduction() {
		opts.Format = logger.FormatJSON
	}
	opts.Attrs = []slog.Attr{
		slog.String("service", cfg.App.Name),
		slog.String("version", cfg.App.Version),
	}
	return logger.New(opts)
}

// httpConfig переносит настройки HTTP из общей конфигурации.
func httpConfig(cfg *config.Config) httpapi.Config {
	hc := httpapi.DefaultConfig()
	hc.Addr = cfg.HTTP.Addr
	if cfg.HTTP.ReadTimeout > 0 {
		hc.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		hc.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	}
	hc.RateLimit = cfg.HTTP.RateLimit
	hc.RateLimitBurst = cfg.HTTP.RateLimitBurst
	if cfg.HTTP.APIKey != "" {
		hc.APIKeys = []string{cfg.HTTP.APIKey}
	}
	hc.Version = cfg.App.Version
	return hc
}

// setupHealth регистрирует проверки подключённых бэкендов.
func setupHealth(cfg *config.Config, stores *backends, history *eventhandler.SessionCompletedHandler, eng *engine.Engine, sched *scheduler.Scheduler) *handlers.CompositeHealthChecker {
	hc := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// Без тиков таймер не замечает окончания сегмента, поэтому от этой
	// проверки зависит готовность.
	maxAge := 5 * cfg.Timer.TickInterval
	if maxAge < 5*time.Second {
		maxAge = 5 * time.Second
	}
	hc.AddCriticalCheck(jobs.TickJobName, handlers.NewHeartbeatCheck(maxAge, func() (time.Time, bool) {
		for _, js := range sched.Stats().Jobs {
			if js.Name == jobs.TickJobName && !js.LastRun.IsZero() {
				return js.LastRun, true
			}
		}
		return time.Time{}, false
	}))

	if stores.cache != nil {
		hc.AddCheck("redis", handlers.NewPingCheck(stores.cache))
	}
	if stores.db != nil {
		hc.AddCheck("postgres", handlers.NewPingCheck(stores.db))
	}
	if stores.storeBreaker != nil {
		hc.AddCheck("snapshot_store", handlers.NewBreakerCheck(stores.storeBreaker))
	}
	hc.AddCheck("history", handlers.NewBreakerCheck(history.Breaker()))
	hc.AddCheck("side_effects", handlers.NewRecentFailuresCheck(time.Minute, func() (time.Time, string) {
		failures := eng.Failures()
		if len(failures) == 0 {
			return time.Time{}, ""
		}
		last := failures[len(failures)-1]
		return last.At, string(last.Kind) + ": " + last.Message()
	}))

	return hc
}
