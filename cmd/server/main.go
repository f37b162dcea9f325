package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"remindme/internal/client"
	"remindme/internal/config"
	"remindme/internal/engine"
	"remindme/internal/logging"
	"remindme/internal/metrics"
	"remindme/internal/notify"
	"remindme/internal/scheduler"
	"remindme/internal/server"
	"remindme/internal/store"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.GetLogger(cfg.LogLevel, cfg.LogFormat)
	logger.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := initOtel(ctx, cfg.OtelServiceName, cfg.OtelMetricsEndpoint, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer otelShutdown(context.Background())

	backend, err := store.OpenBackend(store.BackendConfig{
		Kind:         cfg.StoreBackend,
		SnapshotPath: cfg.SnapshotPath,
		SQLitePath:   cfg.SQLitePath,
		DatabaseURL:  cfg.DatabaseURL,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	reminders := store.New(backend, logger)
	defer reminders.Close()

	b, err := gotgbot.NewBot(cfg.TelegramToken, nil)
	if err != nil {
		logger.Fatalf("failed to create new bot: %s", err.Error())
	}

	m, err := metrics.New()
	if err != nil {
		logger.Fatalf("Failed to create metrics: %v", err)
	}

	sched := scheduler.NewScheduler(logger, cfg.MaxConcurrentFires)
	eng := engine.New(reminders, sched, notify.NewTelegram(b, cfg.DispatchRate, logger), logger, engine.Options{
		DispatchTimeout:      cfg.DispatchTimeout,
		DefaultRetryInterval: cfg.DefaultRetryInterval,
		Location:             cfg.DisplayTimezone,
		Metrics:              m,
	})

	sched.Start()
	defer sched.Stop()

	if _, err := eng.Recover(ctx); err != nil {
		logger.Fatalf("Failed to recover reminders: %v", err)
	}

	var health *http.Server
	if cfg.HealthAddr != "" {
		health = &http.Server{
			Addr:              cfg.HealthAddr,
			Handler:           server.NewMux(reminders, sched, cfg.HealthCheckToken),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Health server stopped: %v", err)
			}
		}()
		logger.Infof("Health endpoint listening on %s", cfg.HealthAddr)
	}

	c := client.NewClient(logger, eng, client.Config{AllowedUsers: cfg.AllowedUsers})

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *gotgbot.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			logger.Errorf("an error occurred while handling update: %s", err.Error())
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	updater := ext.NewUpdater(dispatcher, nil)
	client.SetupHandlers(dispatcher, c)

	if _, err := b.SetMyCommands(client.Commands, nil); err != nil {
		logger.Warnf("Failed to set bot commands: %v", err)
	}

	if err := startUpdates(updater, b, cfg); err != nil {
		logger.Fatalf("failed to start %s mode: %s", cfg.RunMode, err.Error())
	}
	logger.Infof("%s has been started in %s mode...", b.Username, cfg.RunMode)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		if err := updater.Stop(); err != nil {
			logger.Errorf("Failed to stop updater: %v", err)
		}
		if health != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			health.Shutdown(shutdownCtx)
		}
	}()

	// Idle, to keep updates coming in, and avoid bot stopping.
	updater.Idle()
}

func startUpdates(updater *ext.Updater, b *gotgbot.Bot, cfg *config.Config) error {
	switch cfg.RunMode {
	case config.RunModeWebhook:
		webhookOpts := ext.WebhookOpts{
			ListenAddr:  cfg.WebhookHost + ":" + cfg.WebhookPort,
			SecretToken: cfg.WebhookSecret,
		}

		// The path contains the bot token so outside parties cannot find the
		// update endpoint.
		if err := updater.StartWebhook(b, "remindme/"+cfg.TelegramToken, webhookOpts); err != nil {
			return err
		}
		return updater.SetAllBotWebhooks(cfg.WebhookDomain, &gotgbot.SetWebhookOpts{
			MaxConnections:     100,
			DropPendingUpdates: true,
			SecretToken:        webhookOpts.SecretToken,
		})
	default:
		return updater.StartPolling(b, &ext.PollingOpts{
			DropPendingUpdates: true,
			GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
				Timeout: 9,
				RequestOpts: &gotgbot.RequestOpts{
					Timeout: time.Second * 10,
				},
			},
		})
	}
}
