package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/batch"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/session"
	"github.com/raaihank/pii-sentinel/internal/store"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Configuration file path")
		envFile       = flag.String("env-file", os.Getenv("ENV_FILE"), "Path to .env file")
		inputFile     = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile    = flag.String("output", "", "Output JSON lines file (default <input>.masked.jsonl)")
		batchSize     = flag.Int("batch-size", 500, "Records read per batch")
		workers       = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		sessionPrefix = flag.String("session-prefix", "", "Session prefix for records without session_id (default from config)")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input tickets.csv --output masked.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input notes.parquet --workers 8\n", os.Args[0])
		os.Exit(1)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	if err := run(ctx, cfg, log, *inputFile, *outputFile, batch.Config{
		BatchSize:     *batchSize,
		Workers:       pick(*workers, cfg.Batch.Workers),
		SessionPrefix: pickString(*sessionPrefix, cfg.Batch.SessionPrefix),
	}); err != nil {
		log.Fatal("Batch sanitize failed", zap.Error(err))
	}

	log.Info("Batch sanitize completed successfully")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, inputFile, outputFile string, batchConfig batch.Config) error {
	mappings, err := store.Open(&cfg.Store, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to open mapping store: %w", err)
	}
	defer mappings.Close()

	masker, err := privacy.NewMasker(cfg.Privacy, mappings, log)
	if err != nil {
		return fmt.Errorf("failed to create masker: %w", err)
	}
	sessions := session.New(masker, privacy.NewRestorer(mappings, log), mappings, log)

	// The logger owns stdout, so output always goes to a file.
	if outputFile == "" {
		outputFile = strings.TrimSuffix(inputFile, filepath.Ext(inputFile)) + ".masked.jsonl"
	}
	out, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	pipeline := batch.NewPipeline(sessions, batchConfig, log.WithComponent("batch").Logger)

	result, err := pipeline.ProcessFile(ctx, inputFile, out)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.String("output", outputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("total_duration", result.Duration),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	return nil
}

func pick(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func pickString(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}
