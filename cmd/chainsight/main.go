package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dextrack/chainsight/internal/common"
	"github.com/dextrack/chainsight/internal/config"
	"github.com/dextrack/chainsight/internal/db"
	"github.com/dextrack/chainsight/internal/engine"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/metrics"
	"github.com/dextrack/chainsight/internal/migrations"
	"github.com/dextrack/chainsight/internal/query"
	"github.com/dextrack/chainsight/internal/source"
	"github.com/dextrack/chainsight/internal/store"
	"github.com/dextrack/chainsight/internal/tracker"
	"github.com/dextrack/chainsight/pkg/api"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainsight",
	Short: "ChainSight - Incremental reorg-aware chain indexer",
	Long: `ChainSight maintains derived per-subject indices over an append-mostly chain.
It advances block by block, detects reorganizations by comparing parent hashes,
rolls the index back to the common ancestor when the chain forks, and serves
point-in-time queries at any indexed height.`,
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(schemaCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentEngine, cfg.Logging)

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	// Database
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	dbMaintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		database,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := dbMaintenance.Stop(); err != nil {
			log.Warnf("Failed to stop maintenance: %v", err)
		}
	}()

	// Chain source
	log.Infof("Connecting to chain node at %s...", cfg.Source.RPCURL)
	src, err := source.NewClient(ctx,
		cfg.Source,
		logger.NewComponentLoggerFromConfig(common.ComponentSource, cfg.Logging),
	)
	if err != nil {
		return fmt.Errorf("failed to create source client: %w", err)
	}
	defer src.Close()

	// Tracker, store, engine
	trk, err := tracker.New(
		database,
		src,
		cfg.Tracker,
		logger.NewComponentLoggerFromConfig(common.ComponentTracker, cfg.Logging),
		dbMaintenance,
	)
	if err != nil {
		return fmt.Errorf("failed to create chain tracker: %w", err)
	}

	indexStore, err := store.New(
		database,
		logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging),
		dbMaintenance,
	)
	if err != nil {
		return fmt.Errorf("failed to create index store: %w", err)
	}

	eng := engine.New(cfg.Engine, src, trk, indexStore,
		logger.NewComponentLoggerFromConfig(common.ComponentEngine, cfg.Logging))

	// Query service and API
	queryService := query.New(indexStore,
		logger.NewComponentLoggerFromConfig(common.ComponentQuery, cfg.Logging))

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(
			cfg.API,
			queryService,
			eng,
			indexStore,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	log.Info("Starting ChainSight...")

	// A fatal indexing error halts the writer but keeps the process up:
	// queries stay answerable at the last committed cursor until shutdown.
	if err := eng.Run(ctx); err != nil {
		log.Errorf("Indexing stopped: %v", err)
		log.Info("Query service remains available, waiting for shutdown signal")
		<-ctx.Done()
	}

	log.Info("ChainSight stopped")
	return nil
}
