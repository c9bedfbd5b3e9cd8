package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nvasilev/careminder/internal/ai"
	"github.com/nvasilev/careminder/internal/alarm"
	"github.com/nvasilev/careminder/internal/bot"
	"github.com/nvasilev/careminder/internal/bot/handlers"
	"github.com/nvasilev/careminder/internal/config"
	"github.com/nvasilev/careminder/internal/database"
	"github.com/nvasilev/careminder/internal/notify"
	"github.com/nvasilev/careminder/internal/repository"
	"github.com/nvasilev/careminder/internal/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DatabaseURI == "" {
		log.Fatal("DATABASE_URI is required")
	}
	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Initialize AI client (optional)
	var aiClient *ai.Client
	if cfg.AIAPIKey != "" {
		aiClient = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		log.Printf("AI client initialized (model: %s)", cfg.AIModel)
	} else {
		log.Println("AI client not configured, natural language input disabled")
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("Failed to create Telegram API: %v", err)
	}

	patientRepo := repository.NewPatientRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	alarmStateRepo := repository.NewAlarmStateRepository(db)

	// Assemble the alarm core: clock, timer and persistence ports feed the
	// registry; the dispatcher decides escalation and re-arming.
	clock := alarm.SystemClock{}
	registry := alarm.NewRegistry(clock, alarm.NewSystemTimer(clock), alarmStateRepo)
	dispatcher := alarm.NewDispatcher(clock, registry, reminderRepo, notify.NewTelegram(api), cfg.SnoozeDuration)

	// Replay anything missed while the process was down, then re-arm the rest.
	recovery := alarm.NewRecovery(clock, registry, dispatcher)
	if err := recovery.RecoverAll(ctx); err != nil {
		log.Printf("Failed to recover persisted alarms: %v", err)
	}

	sched := scheduler.New(clock, registry, dispatcher, reminderRepo, cfg.ReconcileInterval)
	go sched.Start(ctx)

	repos := &handlers.Repositories{
		Patient:  patientRepo,
		Reminder: reminderRepo,
	}
	b := bot.New(api, handlers.New(api, repos, aiClient, dispatcher, sched))

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	log.Println("Starting bot...")
	if err := b.Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Bot error: %v", err)
	}
}
