package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/database"
	"github.com/chr8994/nova-email-service/internal/httpapi"
	"github.com/chr8994/nova-email-service/internal/llm"
	"github.com/chr8994/nova-email-service/internal/provider"
	"github.com/chr8994/nova-email-service/internal/provider/gmailprovider"
	"github.com/chr8994/nova-email-service/internal/provider/nylas"
	"github.com/chr8994/nova-email-service/internal/queue"
	"github.com/chr8994/nova-email-service/internal/repository"
	"github.com/chr8994/nova-email-service/internal/service"
	"github.com/chr8994/nova-email-service/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	// Initialize repositories
	configRepo := repository.NewConfigurationRepository(db.Gorm)
	inboxRepo := repository.NewInboxRepository(db.Gorm)
	itemRepo := repository.NewSyncItemRepository(db.SQL)
	statsRepo := repository.NewSyncStatsRepository(db.SQL)
	threadRepo := repository.NewThreadRepository(db.SQL)
	extractionRepo := repository.NewExtractionRepository(db.SQL)
	eventRepo := repository.NewWebhookEventRepository(db.Gorm)

	// Initialize the durable queue substrate
	jobQueue := queue.New(db.SQL)

	// Initialize the remote provider client
	providerClient, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	// Initialize the LLM client
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey)

	// Initialize services
	messageSyncer := service.NewMessageSyncer(threadRepo, providerClient)
	orchestrator := service.NewBackfillOrchestrator(cfg, jobQueue, configRepo, itemRepo, statsRepo, threadRepo, inboxRepo, providerClient)
	threadSyncer := service.NewThreadSyncer(cfg, jobQueue, itemRepo, statsRepo, inboxRepo, messageSyncer, providerClient)
	webhookConsumer := service.NewWebhookConsumer(cfg, jobQueue, eventRepo, inboxRepo, messageSyncer, providerClient)
	monitor := service.NewCompletionMonitor(cfg, configRepo, itemRepo, statsRepo)
	enqueuer := service.NewExtractionEnqueuer(cfg, jobQueue, extractionRepo, threadRepo, llmClient)
	extractionWorker := service.NewExtractionWorker(cfg, jobQueue, extractionRepo, threadRepo, llmClient)

	// Initialize the HTTP intake API
	server := httpapi.NewServer(cfg, jobQueue, configRepo, inboxRepo, statsRepo, eventRepo, db.SQL)

	// Initialize watcher
	w := watcher.New(
		watcher.Role{Name: "backfill-orchestrator", Run: orchestrator.Run},
		watcher.Role{Name: "thread-syncer", Run: threadSyncer.Run},
		watcher.Role{Name: "webhook-consumer", Run: webhookConsumer.Run},
		watcher.Role{Name: "completion-monitor", Run: monitor.Run},
		watcher.Role{Name: "extraction-enqueuer", Run: enqueuer.Run},
		watcher.Role{Name: "extraction-worker", Run: extractionWorker.Run},
		watcher.Role{Name: "http-api", Run: server.Run},
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		// Wait for graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		select {
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				log.Printf("Watcher error: %v", err)
			}
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}

// newProviderClient selects the configured remote provider implementation
func newProviderClient(cfg *config.Config) (provider.Client, error) {
	switch cfg.Provider {
	case config.ProviderNylas:
		return nylas.NewClient(cfg.NylasAPIURL, cfg.NylasAPIKey), nil
	case config.ProviderGmail:
		return gmailprovider.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
