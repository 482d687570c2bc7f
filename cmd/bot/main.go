package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/config"
	idb "kkt_deadline_bot/internal/infra/database"
	"kkt_deadline_bot/internal/infra/database/migrations"
	"kkt_deadline_bot/internal/infra/httpapi"
	"kkt_deadline_bot/internal/infra/logger"
	"kkt_deadline_bot/internal/infra/memstore"
	"kkt_deadline_bot/internal/infra/metrics"
	"kkt_deadline_bot/internal/infra/scheduler"
	"kkt_deadline_bot/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}

	log := logger.New(cfg)
	mainLogger := logger.Component(log, "main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"storage":     cfg.StorageBackend,
		"timezone":    cfg.Timezone.String(),
		"admins":      len(cfg.AdminTelegramIDs),
		"managers":    len(cfg.ManagerTelegramIDs),
	}).Info("KKT deadline bot starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage
	var tx store.Transactor
	switch cfg.StorageBackend {
	case config.StorageMemory:
		mainLogger.Warn("Using in-memory storage; data is lost on restart.")
		tx = memstore.New()
	default:
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL, idb.PoolOptions{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			mainLogger.Fatalf("FATAL: Could not connect to database: %v", err)
		}
		defer closeDB(db, mainLogger)
		mainLogger.Info("Database connection established successfully.")

		if cfg.RunMigrations {
			if err := migrations.MigrateUp(db); err != nil {
				mainLogger.Fatalf("FATAL: Could not apply migrations: %v", err)
			}
			mainLogger.Info("Database migrations applied.")
		} else if err := migrations.CheckStatus(db); err != nil {
			mainLogger.Fatalf("FATAL: Database schema is not current: %v", err)
		}
		tx = idb.NewTransactor(db)
	}

	// Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: cfg.TelegramPollTimeout},
		Client: &http.Client{Timeout: cfg.TelegramHTTPTimeout},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := logger.Component(log, "telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not create Telegram bot: %v", err)
	}
	sender := telegram.NewTelebotAdapter(bot)

	// Application services
	clk := clock.NewSystem(cfg.Timezone)
	recipients := app.NewRecipientResolver(cfg.AdminTelegramIDs, cfg.ManagerTelegramIDs)
	resolver := app.NewTypeResolver(map[equipment.ComplianceField][]string{
		equipment.FieldFNReplacement: cfg.FNTypeNames,
		equipment.FieldOFDRenewal:    cfg.OFDTypeNames,
	})

	registry := app.NewDeadlineRegistry(tx, clk, cfg.ConflictRetryAttempts, m, logger.Component(log, "deadline_registry"))
	cascade := app.NewCascadePolicy(tx, cfg.AllowTypeOrphaning, cfg.ConflictRetryAttempts, m, logger.Component(log, "cascade_policy"))
	hooks := app.NewEquipmentHookEngine(tx, resolver, clk, cfg.ConflictRetryAttempts, m, logger.Component(log, "equipment_hooks"))
	dispatcher := app.NewNotificationDispatcher(
		sender,
		app.RetryPolicy{
			MaxAttempts:  cfg.NotifyRetryAttempts,
			InitialDelay: cfg.NotifyRetryInitialDelay,
			MaxDelay:     cfg.NotifyRetryMaxDelay,
		},
		cfg.NotifyAttemptTimeout,
		cfg.NotifyWorkers,
		clk,
		m,
		logger.Component(log, "notification_dispatcher"),
	)
	notifier := app.NewNotificationScheduler(tx, clk, recipients, dispatcher, app.SchedulerOptions{
		RenotifyInterval: cfg.RenotifyInterval,
		TickTimeout:      cfg.TickTimeout,
		ConflictAttempts: cfg.ConflictRetryAttempts,
	}, m, logger.Component(log, "notification_scheduler"))
	adminService := app.NewAdminService(registry, cascade, notifier, sender, recipients, clk, logger.Component(log, "admin_service"))
	mainLogger.Info("Application services initialized.")

	// Register Handlers
	cmds := telegram.NewCommands(adminService, logger.Component(log, "telegram"))
	telegram.RegisterBotCommands(ctx, bot, cmds)
	telegram.RegisterAdminHandlers(ctx, bot, cmds, cfg.TickTimeout)
	mainLogger.Info("Bot command handlers registered.")

	// Scheduler
	cronScheduler := scheduler.NewDeadlineScheduler(notifier, adminService, scheduler.Options{
		Location:        cfg.Timezone,
		CheckSpec:       cfg.CronSpecDeadlineCheck,
		SummarySpec:     cfg.CronSpecDailySummary,
		CheckTimeout:    cfg.TickTimeout,
		RunCheckOnStart: cfg.RunCheckOnStart,
	}, logger.Component(log, "scheduler"))
	if err := cronScheduler.Start(); err != nil {
		mainLogger.Fatalf("FATAL: Could not start scheduler: %v", err)
	}

	// HTTP API
	api := httpapi.New(registry, cascade, hooks, notifier,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.TickTimeout, logger.Component(log, "http"))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening.")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server stopped unexpectedly")
			stop()
		}
	}()

	mainLogger.Info("Application setup complete. Bot and Scheduler are starting...")

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	bot.Stop()
	cronScheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	mainLogger.Info("Application shut down gracefully.")
}

func closeDB(db *sql.DB, log *logrus.Entry) {
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("Error closing database connection")
	}
}
