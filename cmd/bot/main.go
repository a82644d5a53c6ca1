package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/nbd-wtf/go-nostr"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/guard"
	"github.com/nostr-banger/banger-bot/internal/keepalive"
	"github.com/nostr-banger/banger-bot/internal/mentions"
	"github.com/nostr-banger/banger-bot/internal/messages"
	"github.com/nostr-banger/banger-bot/internal/notifications"
	"github.com/nostr-banger/banger-bot/internal/relay"
	"github.com/nostr-banger/banger-bot/internal/responder"
	"github.com/nostr-banger/banger-bot/internal/scheduler"
	"github.com/nostr-banger/banger-bot/internal/storage"
)

var reportSpecs = map[string]string{
	"daily":  "0 0 9 * * *",
	"weekly": "0 0 9 * * MON",
}

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)
	logrus.Info("Starting Banger Bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := relay.NewSigner(cfg.PrivateKey)
	if err != nil {
		logrus.Fatalf("Invalid bot key: %v", err)
	}
	logrus.Infof("Bot identity: %s", signer.NPub())

	// Archive is optional; without it quarantined rows are only logged
	var archive storage.ArchiveInterface
	if cfg.StorageAccount != "" {
		blob, err := storage.NewBlobArchive(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize archive: %v", err)
		}
		archive = blob
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
		Timeout:     cfg.StoreTimeout,
		Archive:     archive,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	pool := relay.NewPool(cfg.Relays, relay.Options{
		Timeout:           cfg.RelayTimeout,
		PublishRatePerSec: cfg.PublishRatePerSec,
		PublishBurst:      cfg.PublishBurst,
		Lookback:          time.Duration(cfg.LookbackSeconds) * time.Second,
		Reconnect: relay.ReconnectPolicy{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxDelay:    cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
	})
	defer pool.Close()

	location, _ := time.LoadLocation(cfg.TimeZone)
	composer := messages.NewComposer(messages.Options{
		Relays:             cfg.Relays,
		Location:           location,
		MaxMentionsPerHour: cfg.MaxMentionsPerHour,
		MaxTasksPerUser:    cfg.MaxTasksPerUser,
	})

	metrics := mentions.NewMetrics()
	responderService := responder.NewService(pool, signer, composer, metrics, cfg.EnableZapReply)

	schedulerService := scheduler.NewService(cfg, store, responderService)
	if err := schedulerService.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	var notificationService notifications.NotificationInterface
	if cfg.NotificationsEnabled() {
		notificationService = notifications.NewService(cfg)
	}

	mentionService := mentions.NewService(signer.PublicKey(), cfg.ReportSchedule, mentions.Dependencies{
		Store:   store,
		Archive: archive,
		Guard: guard.NewGuard(store, schedulerService, guard.Limits{
			MaxMentionsPerHour: cfg.MaxMentionsPerHour,
			MaxTasksPerUser:    cfg.MaxTasksPerUser,
			MaxTotalTasks:      cfg.MaxTotalTasks,
		}),
		Scheduler:     schedulerService,
		Fetcher:       pool,
		Responder:     responderService,
		Notifications: notificationService,
		Metrics:       metrics,
	})

	reports, err := startReports(cfg.ReportSchedule, mentionService)
	if err != nil {
		logrus.Fatalf("Failed to schedule reports: %v", err)
	}
	defer func() { <-reports.Stop().Done() }()

	pinger := keepalive.NewPinger(cfg.KeepAliveURL, cfg.KeepAliveSchedule)
	if err := pinger.Start(); err != nil {
		logrus.Fatalf("Failed to start keep-alive: %v", err)
	}
	defer pinger.Stop()

	// Listen for mentions of the bot since the lookback window
	since := nostr.Timestamp(time.Now().Add(-time.Duration(cfg.LookbackSeconds) * time.Second).Unix())
	sub := pool.Subscribe(ctx, nostr.Filter{
		Kinds: []int{nostr.KindTextNote},
		Tags:  nostr.TagMap{"p": []string{signer.PublicKey()}},
		Since: &since,
	})
	defer sub.Close()
	go mentionService.Run(ctx, sub.Events())

	// Set up HTTP server for health checks and operator endpoints
	router := mux.NewRouter()
	registerRoutes(router, mentionService, schedulerService, sub, cfg.AdminToken)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if cfg.LogFormat == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// startReports schedules periodic status reports. It returns a started,
// possibly empty, cron so callers can always stop it.
func startReports(schedule string, mentionService *mentions.Service) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	spec, ok := reportSpecs[schedule]
	if ok {
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := mentionService.RunReport(ctx); err != nil {
				logrus.Errorf("Scheduled report failed: %v", err)
			}
		})
		if err != nil {
			return nil, err
		}
		logrus.Infof("Scheduled %s reports (%s)", schedule, spec)
	}
	c.Start()
	return c, nil
}
