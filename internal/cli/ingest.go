package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/config"
	"github.com/sahaay-labs/sahaay/internal/database"
	"github.com/sahaay-labs/sahaay/internal/openai"
	"github.com/sahaay-labs/sahaay/internal/repository"
	"github.com/sahaay-labs/sahaay/internal/service"
	"github.com/sahaay-labs/sahaay/internal/storage"
	"github.com/spf13/cobra"
)

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load guidance documents into the vector index",
		Long:  "Chunk and embed guidance documents from a local directory or S3 prefix, then index them for retrieval",
		RunE:  runIngest,
	}

	cmd.Flags().String("dir", "", "Local directory containing corpus documents")
	cmd.Flags().String("s3-prefix", "", "S3 key prefix to load corpus documents from")
	cmd.Flags().Bool("reset", false, "Clear the index before ingesting")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	dir, _ := cmd.Flags().GetString("dir")
	s3Prefix, _ := cmd.Flags().GetString("s3-prefix")
	reset, _ := cmd.Flags().GetBool("reset")

	if dir == "" && s3Prefix == "" {
		return fmt.Errorf("either --dir or --s3-prefix is required")
	}
	if dir != "" && s3Prefix != "" {
		return fmt.Errorf("--dir and --s3-prefix are mutually exclusive")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := cache.Open(cfg.CacheDir, cfg.CacheMemEntries)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

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

	retrievalSvc := service.NewRetrievalServiceWithConfig(
		repository.NewChunkRepository(pool),
		embeddingSvc,
		store,
		service.RetrievalConfig{
			TopK:           cfg.TopK,
			ScoreThreshold: cfg.ScoreThreshold,
			CacheTTL:       cfg.RetrievalCacheTTL,
		},
	)

	var docs []service.SourceDocument
	if dir != "" {
		docs, err = service.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to load corpus from %s: %w", dir, err)
		}
		log.Printf("loaded %d documents from %s", len(docs), dir)
	} else {
		if !cfg.HasS3() {
			return fmt.Errorf("S3 is not configured (set SAHAAY_S3_ENDPOINT, SAHAAY_S3_ACCESS_KEY_ID, SAHAAY_S3_SECRET_ACCESS_KEY)")
		}
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		docs, err = service.LoadS3(ctx, s3Client, s3Prefix)
		if err != nil {
			return fmt.Errorf("failed to load corpus from s3://%s/%s: %w", cfg.S3Bucket, s3Prefix, err)
		}
		log.Printf("loaded %d documents from s3://%s/%s", len(docs), cfg.S3Bucket, s3Prefix)
	}

	ingestSvc := service.NewIngestService(retrievalSvc)
	count, err := ingestSvc.IngestDocuments(ctx, docs, reset)
	if err != nil {
		return fmt.Errorf("ingest failed after %d chunks: %w", count, err)
	}

	log.Printf("indexed %d chunks from %d documents", count, len(docs))
	return nil
}
