// Command seed issues the first API key against a fresh database and prints
// the raw key once. Keep it somewhere safe: only its hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"agentscan/internal/async"
	"agentscan/internal/config"
	"agentscan/internal/database"
	"agentscan/internal/logger"
	"agentscan/internal/repository"
	"agentscan/internal/service"
)

func main() {
	name := flag.String("name", "Default Key", "display name of the key")
	email := flag.String("email", "admin@example.com", "owner email of the key")
	flag.Parse()

	if err := run(*name, *email); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(name, email string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(cfg, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	runner := async.NewRunner(log, async.DefaultTaskTimeout)
	defer func() {
		if err := runner.Shutdown(ctx); err != nil {
			log.Warn("background tasks did not finish", zap.Error(err))
		}
	}()

	creds := service.NewCredentialService(repository.NewAPIKeyRepository(db), repository.NewDeviceRepository(db), runner, log)
	issued, err := creds.Issue(ctx, name, email, nil)
	if err != nil {
		return fmt.Errorf("issue key: %w", err)
	}

	fmt.Printf("API key created (shown once):\n\n  id:     %s\n  name:   %s\n  prefix: %s\n  key:    %s\n", issued.ID, issued.Name, issued.KeyPrefix, issued.Key)
	return nil
}
