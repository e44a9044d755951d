package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sahaay-labs/sahaay/internal/api/handlers"
	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/classify"
	"github.com/sahaay-labs/sahaay/internal/config"
	"github.com/sahaay-labs/sahaay/internal/database"
	"github.com/sahaay-labs/sahaay/internal/jobs"
	"github.com/sahaay-labs/sahaay/internal/llm"
	"github.com/sahaay-labs/sahaay/internal/openai"
	"github.com/sahaay-labs/sahaay/internal/repository"
	"github.com/sahaay-labs/sahaay/internal/server"
	"github.com/sahaay-labs/sahaay/internal/service"
	"github.com/sahaay-labs/sahaay/internal/telemetry"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the sahaay API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	store, err := cache.Open(cfg.CacheDir, cfg.CacheMemEntries)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	chunkRepo := repository.NewChunkRepository(pool)
	queryLogRepo := repository.NewQueryLogRepository(pool)

	embeddingClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.EmbeddingAPIKey,
		BaseURL:             cfg.EmbeddingBaseURL,
		EmbeddingModel:      openai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
	embeddingSvc := service.NewEmbeddingServiceWithConfig(embeddingClient, store, service.EmbeddingConfig{
		CacheTTL: cfg.EmbeddingCacheTTL,
		Model:    cfg.EmbeddingModel,
	})

	retrievalSvc := service.NewRetrievalServiceWithConfig(chunkRepo, embeddingSvc, store, service.RetrievalConfig{
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		CacheTTL:       cfg.RetrievalCacheTTL,
	})

	var remote []llm.Provider
	if cfg.HasRemoteLLM() {
		for _, model := range cfg.RemoteLLMModels {
			remote = append(remote, llm.NewChatProvider(cfg.RemoteLLMBaseURL, cfg.RemoteLLMAPIKey, model, cfg.ProviderTimeout))
		}
		log.Printf("remote providers configured: %d", len(remote))
	}
	local := llm.NewLocalProvider(cfg.LocalLLMURL, cfg.LocalLLMModel, cfg.ProviderTimeout)

	generationSvc := service.NewGenerationServiceWithConfig(remote, local, service.GenerationConfig{
		PrimaryLanguage: cfg.PrimaryLanguage,
	})

	answerSvc := service.NewAnswerServiceWithConfig(
		retrievalSvc,
		generationSvc,
		classify.New(),
		store,
		queryLogRepo,
		service.AnswerConfig{
			TopK:           cfg.TopK,
			ScoreThreshold: cfg.ScoreThreshold,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
			ResponseTTL:    cfg.ResponseCacheTTL,
		},
	)

	janitor := jobs.NewWorker(jobs.NewCacheJanitor(store), cfg.CacheJanitor)
	go janitor.Start(ctx)
	log.Println("cache janitor started")

	router := server.NewRouter(server.RouterConfig{
		AskHandler:   handlers.NewAskHandler(answerSvc),
		CacheHandler: handlers.NewCacheHandler(store),
		IndexHandler: handlers.NewIndexHandler(retrievalSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	janitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
