package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"marketplace-settlement/config"
	pgStorage "marketplace-settlement/internal/adapter/storage/postgres"
	"marketplace-settlement/pkg/logger"
	"marketplace-settlement/pkg/migrate"
)

func main() {
	configPath := flag.String("config", os.Getenv("MSE_CONFIG"), "path to config file")
	cmd := flag.String("cmd", "up", "migration command: up|down|status|redo|reset|version|validate")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// validate needs neither config nor a database.
	if *cmd == "validate" {
		if err := migrate.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Pretty), "migrate")

	ctx := context.Background()
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	db := pgStorage.OpenSQLDB(pool)
	defer db.Close()

	log.Info().Str("cmd", *cmd).Msg("migrate ready")

	switch *cmd {
	case "version":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		err = migrate.MigrateToVersion(ctx, db, *version)
	case "up", "down", "status", "redo", "reset":
		err = migrate.Run(ctx, db, *cmd)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	if err != nil {
		log.Error().Err(err).Str("cmd", *cmd).Msg("migration failed")
		os.Exit(1)
	}
	log.Info().Str("cmd", *cmd).Msg("migration complete")
}
