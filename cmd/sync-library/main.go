package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"phototree/internal/config"
	"phototree/internal/database"
	"phototree/internal/filesystem"
	"phototree/internal/library"
	"phototree/internal/logging"
	"phototree/internal/services"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./config.yaml)")
	rootPath := flag.String("root", "", "Library root, overrides library.root_path")
	albumID := flag.Int64("album", 0, "Only reconcile the tree below this album")
	path := flag.String("path", "", "Only reconcile the album at this library path")
	workers := flag.Int("workers", 0, "Number of image probe workers")
	format := flag.String("format", "text", "Output format: text, json or yaml")
	flag.Parse()

	validFormat := *format == "text" || *format == "json" || *format == "yaml"
	if (*albumID != 0 && *path != "") || !validFormat {
		fmt.Println("Usage: sync-library [-config <file>] [-root <dir>] [-album <id> | -path <album-path>] [-workers <num>] [-format text|json|yaml]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	loader := config.NewConfigLoader()
	if *configPath != "" {
		loader.SetConfigFile(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *rootPath != "" {
		cfg.Library.RootPath = *rootPath
	}
	if *workers > 0 {
		cfg.Library.Workers = *workers
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format, os.Stderr)

	if err := run(cfg, logger, *albumID, *path, *format); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger *logging.Logger, albumID int64, path, format string) error {
	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer dbManager.Close()

	if err := database.NewMigrationManager(dbManager.GetGormDB(), logger.Zerolog()).Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	provider, err := filesystem.NewOSProvider(cfg.Library.RootPath)
	if err != nil {
		return err
	}
	engine := library.NewEngine(library.EngineConfig{
		RootPath: cfg.Library.RootPath,
		Workers:  cfg.Library.Workers,
	}, services.NewRepository(dbManager.GetGormDB()), provider, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var result *library.SyncResult
	switch {
	case albumID != 0:
		fmt.Fprintf(os.Stderr, "Reconciling album %d below %s...\n", albumID, cfg.Library.RootPath)
		result, err = engine.ReconcileTree(ctx, albumID)
	case path != "":
		fmt.Fprintf(os.Stderr, "Reconciling %s below %s...\n", path, cfg.Library.RootPath)
		result, err = engine.ReconcilePath(ctx, path)
	default:
		fmt.Fprintf(os.Stderr, "Reconciling library %s with %d workers...\n", cfg.Library.RootPath, cfg.Library.Workers)
		result, err = engine.SyncLibrary(ctx)
	}
	if err != nil {
		return err
	}

	return writeReport(os.Stdout, format, report{
		Root:       cfg.Library.RootPath,
		DurationMs: time.Since(start).Milliseconds(),
		Result:     result,
	})
}
