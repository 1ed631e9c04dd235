package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/calendarapi"
	"github.com/tickerwatch/scheduler/internal/config"
	"github.com/tickerwatch/scheduler/internal/economic"
	"github.com/tickerwatch/scheduler/internal/gatekeeper"
	"github.com/tickerwatch/scheduler/internal/market"
	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/monitor"
	"github.com/tickerwatch/scheduler/internal/notify"
	"github.com/tickerwatch/scheduler/internal/scheduler"
	"github.com/tickerwatch/scheduler/internal/storage"
)

// alertReporter sends the morning and evening reports as alerts. The report
// content pipeline lives in a separate service; from the scheduler's side a
// report run is a notification.
type alertReporter struct {
	logger   *zap.Logger
	notifier notify.Notifier
	channel  string
}

func (r *alertReporter) MorningReport(ctx context.Context) error {
	r.logger.Info("Running morning report")
	return r.notifier.Notify(ctx, r.channel, &model.Alert{
		Severity: model.AlertSeverityInfo,
		Title:    "Morning report",
		Message:  "Pre-market summary requested",
	})
}

func (r *alertReporter) EveningReport(ctx context.Context) error {
	r.logger.Info("Running evening report")
	return r.notifier.Notify(ctx, r.channel, &model.Alert{
		Severity: model.AlertSeverityInfo,
		Title:    "Evening report",
		Message:  "Post-market summary requested",
	})
}

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		logger.Fatal("Invalid application timezone",
			zap.String("timezone", cfg.App.Timezone),
			zap.Error(err))
	}
	sourceLocation, err := time.LoadLocation(cfg.Market.SourceTimezone)
	if err != nil {
		logger.Fatal("Invalid market source timezone",
			zap.String("timezone", cfg.Market.SourceTimezone),
			zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	notifier, err := notify.NewNATSNotifier(js, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}

	// Open persistence
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	scheduleStore, err := storage.NewScheduleStore(db, logger)
	if err != nil {
		logger.Fatal("Failed to create schedule store", zap.Error(err))
	}
	history, err := storage.NewSQLiteRunHistory(db, logger)
	if err != nil {
		logger.Fatal("Failed to create run history", zap.Error(err))
	}

	// Calendar data service client
	calendar := calendarapi.New(logger, calendarapi.Options{
		BaseURL:    cfg.Calendar.BaseURL,
		Countries:  cfg.Economic.Countries,
		Importance: cfg.Economic.MinImportance,
		Timeout:    cfg.Calendar.Timeout,
	})

	// Core job engine
	sched := scheduler.New(logger, scheduler.Options{
		Location:     location,
		MaxInstances: cfg.Scheduler.MaxInstances,
		MisfireGrace: cfg.Scheduler.MisfireGrace,
		Notifier:     notifier,
		DevChannel:   cfg.NATS.DevChannel,
		History:      history,
	})

	calc := market.NewCalculator(logger, scheduleStore, calendar, market.Options{
		Target:      location,
		Source:      sourceLocation,
		OpenTime:    cfg.Market.OpenTime,
		CloseTime:   cfg.Market.CloseTime,
		HorizonDays: cfg.Market.HorizonDays,
		RefreshDays: cfg.Market.RefreshDays,
	})

	orchestrator := economic.New(logger, sched, calendar, notifier, economic.Options{
		WarningLead:    cfg.Economic.WarningLead,
		PostEventDelay: cfg.Economic.PostEventDelay,
		PollInterval:   cfg.Economic.PollInterval,
		MaxWait:        cfg.Economic.MaxWait,
		AlertChannel:   cfg.NATS.AlertChannel,
		RefreshTime:    cfg.Economic.RefreshTime,
		RefreshJobID:   gatekeeper.EconomicRefreshJobID,
	})
	orchestrator.Register()

	reports := &alertReporter{
		logger:   logger.Named("reports"),
		notifier: notifier,
		channel:  cfg.NATS.AlertChannel,
	}

	keeper := gatekeeper.New(logger, sched, calc, notifier, reports, gatekeeper.Options{
		SetupTime:              cfg.Scheduler.DailySetup,
		EconomicRefreshTime:    cfg.Economic.RefreshTime,
		EconomicRefreshHandler: economic.RefreshHandlerName,
		AlertChannel:           cfg.NATS.AlertChannel,
	})
	if err := keeper.Register(); err != nil {
		logger.Fatal("Failed to register gatekeeper", zap.Error(err))
	}

	health := monitor.New(logger, sched, notifier, monitor.Options{
		DevChannel: cfg.NATS.DevChannel,
		MaxCPU:     cfg.Monitor.MaxCPU,
		MaxMemory:  cfg.Monitor.MaxMemory,
	})
	if err := health.Register(cfg.Monitor.Interval); err != nil {
		logger.Fatal("Failed to register health monitor", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	sched.Start(ctx)

	// A restart after the daily setup window must not leave the day without
	// its schedule: run the gatekeeper and economic refresh now if their
	// cron fire for today is already behind us.
	if err := keeper.CatchUp(ctx); err != nil {
		logger.Error("Gatekeeper catch-up failed", zap.Error(err))
	}
	if err := orchestrator.CatchUp(ctx); err != nil {
		logger.Error("Economic catch-up failed", zap.Error(err))
	}

	// Announce the live job table on the dev channel
	if err := notifier.Notify(ctx, cfg.NATS.DevChannel, &model.Alert{
		Severity: model.AlertSeverityInfo,
		Title:    "Scheduler started",
		Message:  fmt.Sprintf("%s is up\n%s", cfg.App.Name, sched.Summary()),
	}); err != nil {
		logger.Warn("Failed to publish startup summary", zap.Error(err))
	}

	// Prune old run history daily
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.Scheduler.HistoryMaxAge)
				if err := history.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to prune run history", zap.Error(err))
				}
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	sched.Stop()
	logger.Info("Server shutting down gracefully")
}
